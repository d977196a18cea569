package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// AgentRepository provides data access for agents and teams.
type AgentRepository interface {
	// UpsertFromCrmUser keeps the agent roster aligned with the CRM's user
	// directory, keyed on (tenant_id, fub_user_id).
	UpsertFromCrmUser(ctx context.Context, agent *models.Agent) error

	GetByFubUserID(ctx context.Context, tenantID uuid.UUID, fubUserID string) (*models.Agent, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Agent, error)
}

type agentRepository struct {
	db *database.DB
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *database.DB) AgentRepository {
	return &agentRepository{db: db}
}

var _ AgentRepository = (*agentRepository)(nil)

func (r *agentRepository) UpsertFromCrmUser(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (tenant_id, team_id, name, email, fub_user_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, fub_user_id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    is_active = EXCLUDED.is_active
		RETURNING id, team_id, created_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		agent.TenantID,
		agent.TeamID,
		agent.Name,
		agent.Email,
		agent.FubUserID,
		agent.IsActive,
	).Scan(&agent.ID, &agent.TeamID, &agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}

func (r *agentRepository) GetByFubUserID(ctx context.Context, tenantID uuid.UUID, fubUserID string) (*models.Agent, error) {
	query := agentSelect + ` WHERE tenant_id = $1 AND fub_user_id = $2`

	agent, err := scanAgent(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, fubUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return agent, nil
}

func (r *agentRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Agent, error) {
	query := agentSelect + ` WHERE tenant_id = $1 ORDER BY name`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

const agentSelect = `
	SELECT id, tenant_id, team_id, name, email, fub_user_id, is_active, created_at
	FROM agents`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var agent models.Agent

	err := row.Scan(
		&agent.ID,
		&agent.TenantID,
		&agent.TeamID,
		&agent.Name,
		&agent.Email,
		&agent.FubUserID,
		&agent.IsActive,
		&agent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return &agent, nil
}
