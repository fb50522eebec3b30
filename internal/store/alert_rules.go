package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

const alertRuleColumns = `id, project_id, name, condition_type, condition_config, webhook_url, enabled, created_at, updated_at`

func (s *PostgresStore) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	cfg, err := models.EncodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("encode condition: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alert_rules (`+alertRuleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rule.ID, rule.ProjectID, rule.Name, string(rule.Condition.Type()), cfg,
		rule.WebhookURL, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create alert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	cfg, err := models.EncodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("encode condition: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET name = $3, condition_type = $4, condition_config = $5,
		   webhook_url = $6, enabled = $7, updated_at = $8
		 WHERE id = $1 AND project_id = $2`,
		rule.ID, rule.ProjectID, rule.Name, string(rule.Condition.Type()), cfg,
		rule.WebhookURL, rule.Enabled, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAlertRule(ctx context.Context, id, projectID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_rules WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetAlertRule(ctx context.Context, id, projectID uuid.UUID) (*models.AlertRule, error) {
	rule, err := scanAlertRule(s.pool.QueryRow(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = $1 AND project_id = $2`, id, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) ListAlertRules(ctx context.Context, projectID uuid.UUID) ([]*models.AlertRule, error) {
	return s.queryAlertRules(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules WHERE project_id = $1 ORDER BY created_at`, projectID)
}

func (s *PostgresStore) ListEnabledAlertRules(ctx context.Context, projectID uuid.UUID) ([]*models.AlertRule, error) {
	return s.queryAlertRules(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules WHERE project_id = $1 AND enabled ORDER BY created_at`, projectID)
}

func (s *PostgresStore) queryAlertRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.AlertRule{}
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanAlertRule(row pgx.Row) (*models.AlertRule, error) {
	var (
		r       models.AlertRule
		condTyp string
		cfg     []byte
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &condTyp, &cfg,
		&r.WebhookURL, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	cond, err := models.DecodeCondition(models.ConditionType(condTyp), cfg)
	if err != nil {
		return nil, err
	}
	r.Condition = cond
	return &r, nil
}
