package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/fub"
	"github.com/attriq/lead-engine/pkg/logging"
	"github.com/attriq/lead-engine/pkg/metrics"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/normalize"
	"github.com/attriq/lead-engine/pkg/repositories"
	"github.com/attriq/lead-engine/pkg/retry"
)

// MaxSyncErrors caps how many per-record errors a sync run accumulates
// before aborting. A feed that is wholly broken should fail fast instead of
// logging one error per record.
const MaxSyncErrors = 100

// CrmClient is the surface of the CRM API the sync worker uses. Satisfied
// by *fub.Client.
type CrmClient interface {
	VerifyCredentials(ctx context.Context) error
	ListUsers(ctx context.Context) ([]fub.User, error)
	ListPeople(ctx context.Context, offset int, updatedAfter *time.Time) ([]fub.Person, fub.Metadata, error)
}

// CrmClientFactory builds a client for one connection's credentials.
type CrmClientFactory func(cfg *fub.Config) (CrmClient, error)

// CrmSyncService mirrors CRM people into crm_leads.
type CrmSyncService interface {
	// Run syncs every active connection. Per-connection failures are
	// logged and do not stop the pass.
	Run(ctx context.Context) error

	SyncConnection(ctx context.Context, conn *models.CrmConnection) (*models.SyncLog, error)
}

type crmSyncService struct {
	db          *database.DB
	connections repositories.CrmConnectionRepository
	crmLeads    repositories.CrmLeadRepository
	agents      repositories.AgentRepository
	syncLogs    repositories.SyncLogRepository
	embedder    repositories.EmbeddingTaskRepository
	newClient   CrmClientFactory
	retryCfg    *retry.Config
	logger      *zap.Logger
}

// NewCrmSyncService creates a new CrmSyncService.
func NewCrmSyncService(
	db *database.DB,
	connections repositories.CrmConnectionRepository,
	crmLeads repositories.CrmLeadRepository,
	agents repositories.AgentRepository,
	syncLogs repositories.SyncLogRepository,
	embedder repositories.EmbeddingTaskRepository,
	newClient CrmClientFactory,
	logger *zap.Logger,
) CrmSyncService {
	return &crmSyncService{
		db:          db,
		connections: connections,
		crmLeads:    crmLeads,
		agents:      agents,
		syncLogs:    syncLogs,
		embedder:    embedder,
		newClient:   newClient,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("crm-sync"),
	}
}

var _ CrmSyncService = (*crmSyncService)(nil)

func (s *crmSyncService) Run(ctx context.Context) error {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	for _, conn := range conns {
		if _, err := s.SyncConnection(ctx, conn); err != nil {
			// CRM client errors can echo request URLs and auth material.
			s.logger.Error("connection sync failed",
				zap.String("connection_id", conn.ID.String()),
				zap.String("error", logging.SanitizeError(err)))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *crmSyncService) SyncConnection(ctx context.Context, conn *models.CrmConnection) (*models.SyncLog, error) {
	// The next incremental run filters on when THIS run started, not when
	// it finished. Records updated while we page are re-fetched next run
	// instead of being lost in the gap.
	syncStart := time.Now()

	client, err := s.newClient(&fub.Config{BaseURL: conn.BaseURL, APIKey: conn.APIKey})
	if err != nil {
		return nil, fmt.Errorf("build crm client: %w", err)
	}

	syncType := models.SyncTypeFull
	var updatedAfter *time.Time
	if conn.LastSyncAt != nil {
		syncType = models.SyncTypeIncremental
		updatedAfter = conn.LastSyncAt
	}

	log := &models.SyncLog{
		TenantID:        conn.TenantID,
		CrmConnectionID: conn.ID,
		SyncType:        syncType,
		Status:          models.SyncStatusRunning,
		StartedAt:       syncStart,
	}
	if err := s.syncLogs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	runErr := s.sync(ctx, conn, client, updatedAfter, log)

	completed := time.Now()
	log.CompletedAt = &completed
	log.DurationMs = completed.Sub(syncStart).Milliseconds()
	switch {
	case runErr != nil:
		log.Status = models.SyncStatusFailed
		log.Errors = appendBounded(log.Errors, logging.SanitizeError(runErr))
	case len(log.Errors) > 0:
		log.Status = models.SyncStatusCompletedWithErrors
	default:
		log.Status = models.SyncStatusCompleted
	}

	if err := s.syncLogs.Complete(ctx, log); err != nil {
		s.logger.Error("finalize sync log", zap.Error(err))
	}
	metrics.CrmSyncRuns.WithLabelValues(string(log.Status)).Inc()
	// A failed run does not advance the cursor.
	cursor := syncStart
	if runErr != nil && conn.LastSyncAt != nil {
		cursor = *conn.LastSyncAt
	}
	if err := s.connections.RecordSyncOutcome(ctx, conn.ID, cursor, log.Status); err != nil {
		s.logger.Error("record sync outcome", zap.Error(err))
	}

	s.logger.Info("sync finished",
		zap.String("connection_id", conn.ID.String()),
		zap.String("type", string(syncType)),
		zap.String("status", string(log.Status)),
		zap.Int("fetched", log.Fetched),
		zap.Int("created", log.Created),
		zap.Int("updated", log.Updated),
		zap.Int("errors", len(log.Errors)))
	return log, runErr
}

func (s *crmSyncService) sync(ctx context.Context, conn *models.CrmConnection, client CrmClient, updatedAfter *time.Time, log *models.SyncLog) error {
	if err := client.VerifyCredentials(ctx); err != nil {
		var apiErr *fub.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
			return apperrors.ErrInvalidCredentials
		}
		return fmt.Errorf("verify credentials: %w", err)
	}

	if err := s.syncUsers(ctx, conn, client); err != nil {
		// Attribution degrades gracefully without the roster; people
		// still sync.
		s.logger.Warn("user directory sync failed", zap.Error(err))
		log.Errors = appendBounded(log.Errors, fmt.Sprintf("users: %v", err))
	}
	userNames, userEmails := s.userLookup(ctx, conn)

	offset := 0
	for {
		var people []fub.Person
		var meta fub.Metadata
		err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
			var err error
			people, meta, err = client.ListPeople(ctx, offset, updatedAfter)
			return err
		})
		if err != nil {
			return fmt.Errorf("list people at offset %d: %w", offset, err)
		}
		if len(people) == 0 {
			return nil
		}

		for i := range people {
			log.Fetched++
			created, updated, err := s.upsertPerson(ctx, conn, &people[i], userNames, userEmails)
			if err != nil {
				log.Errors = appendBounded(log.Errors, fmt.Sprintf("person %s: %v", people[i].ID, err))
				if len(log.Errors) >= MaxSyncErrors {
					return fmt.Errorf("aborted after %d record errors", MaxSyncErrors)
				}
				continue
			}
			if created {
				log.Created++
			}
			if updated {
				log.Updated++
			}
		}

		offset += len(people)
		if offset >= meta.Total {
			return nil
		}
	}
}

func (s *crmSyncService) syncUsers(ctx context.Context, conn *models.CrmConnection, client CrmClient) error {
	users, err := client.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		agent := &models.Agent{
			TenantID:  conn.TenantID,
			Name:      user.Name,
			Email:     user.Email,
			FubUserID: user.ID.String(),
			IsActive:  true,
		}
		if err := s.agents.UpsertFromCrmUser(ctx, agent); err != nil {
			return err
		}
	}
	return nil
}

func (s *crmSyncService) userLookup(ctx context.Context, conn *models.CrmConnection) (map[string]string, map[string]string) {
	names := make(map[string]string)
	emails := make(map[string]string)
	agents, err := s.agents.List(ctx, conn.TenantID)
	if err != nil {
		s.logger.Warn("agent roster load failed", zap.Error(err))
		return names, emails
	}
	for _, agent := range agents {
		names[agent.FubUserID] = agent.Name
		emails[agent.FubUserID] = agent.Email
	}
	return names, emails
}

// upsertPerson mirrors one CRM person. Returns (created, updated).
func (s *crmSyncService) upsertPerson(ctx context.Context, conn *models.CrmConnection, person *fub.Person, userNames, userEmails map[string]string) (bool, bool, error) {
	if person.ID.String() == "" {
		return false, false, fmt.Errorf("person without id")
	}

	incoming := s.buildCrmLead(conn, person, userNames, userEmails)

	existing, err := s.crmLeads.GetByExternalID(ctx, conn.ID, incoming.ExternalID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return false, false, err
	}

	if existing == nil {
		err := s.db.WithTx(ctx, func(ctx context.Context) error {
			if err := s.crmLeads.Create(ctx, incoming); err != nil {
				return err
			}
			return s.embedder.Enqueue(ctx, &models.EmbeddingTask{
				TenantID:    conn.TenantID,
				TableName:   models.EmbedTargetCrmLeads,
				RecordID:    incoming.ID,
				TextToEmbed: incoming.EmbedText(),
			})
		})
		if err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	// Unchanged records are skipped entirely; the hash covers the fields
	// anyone downstream cares about.
	if existing.SyncHash == incoming.SyncHash {
		return false, false, nil
	}

	incoming.ID = existing.ID
	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.crmLeads.Update(ctx, incoming); err != nil {
			return err
		}
		return s.embedder.Enqueue(ctx, &models.EmbeddingTask{
			TenantID:    conn.TenantID,
			TableName:   models.EmbedTargetCrmLeads,
			RecordID:    incoming.ID,
			TextToEmbed: incoming.EmbedText(),
		})
	})
	if err != nil {
		return false, false, err
	}
	return false, true, nil
}

func (s *crmSyncService) buildCrmLead(conn *models.CrmConnection, person *fub.Person, userNames, userEmails map[string]string) *models.CrmLead {
	lead := &models.CrmLead{
		TenantID:        conn.TenantID,
		CrmConnectionID: conn.ID,
		ExternalID:      person.ID.String(),
		FirstName:       person.FirstName,
		LastName:        person.LastName,
		Email:           primaryEmail(person.Emails),
		Phone:           primaryPhone(person.Phones),
		Address:         firstAddress(person.Addresses),
		Stage:           person.Stage,
		Source:          person.Source,
		Tags:            person.Tags,
		AssignedUserID:  person.AssignedUserID.String(),
		LastSyncedAt:    time.Now(),
	}
	lead.EmailNormalized = normalize.Email(lead.Email)
	lead.PhoneNormalized = normalize.PhoneMatchKey(lead.Phone)
	lead.AddressNormalized = normalize.Address(lead.Address)
	lead.AssignedUserName = userNames[lead.AssignedUserID]
	lead.AssignedUserEmail = userEmails[lead.AssignedUserID]
	if !person.Updated.IsZero() {
		t := person.Updated
		lead.RemoteUpdatedAt = &t
	}
	lead.SyncHash = lead.ComputeSyncHash()
	return lead
}

func primaryEmail(emails []fub.Email) string {
	for _, e := range emails {
		if e.IsPrimary == 1 {
			return e.Value
		}
	}
	if len(emails) > 0 {
		return emails[0].Value
	}
	return ""
}

func primaryPhone(phones []fub.Phone) string {
	for _, p := range phones {
		if p.IsPrimary == 1 {
			return p.Value
		}
	}
	if len(phones) > 0 {
		return phones[0].Value
	}
	return ""
}

func firstAddress(addrs []fub.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	a := addrs[0]
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.Code} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

func appendBounded(errs []string, msg string) []string {
	if len(errs) >= MaxSyncErrors {
		return errs
	}
	return append(errs, msg)
}
