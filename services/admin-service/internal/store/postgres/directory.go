package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"urclec/internal/identity"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

// ListRoles returns the role catalogue with the number of active users
// holding each role, whatever tag spelling they were stored with.
func (s *Store) ListRoles(ctx context.Context) ([]models.RoleInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT role, label FROM roles ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	var roles []models.RoleInfo
	for rows.Next() {
		var (
			raw  string
			info models.RoleInfo
		)
		if err := rows.Scan(&raw, &info.Label); err != nil {
			rows.Close()
			return nil, err
		}
		role, ok := identity.ParseRole(raw)
		if !ok {
			continue
		}
		info.Role = role
		roles = append(roles, info)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range roles {
		err := s.pool.QueryRow(ctx, `
			SELECT count(DISTINCT u.user_id)
			FROM users u
			JOIN user_roles ur ON ur.user_id = u.user_id
			WHERE u.active AND `+fmt.Sprintf(roleTagSQL, "ur.role")+` = ANY($1)
		`, identity.Aliases(roles[i].Role)).Scan(&roles[i].Users)
		if err != nil {
			return nil, fmt.Errorf("count role members: %w", err)
		}
	}
	return roles, nil
}

func (s *Store) CreateAgency(ctx context.Context, agency models.Agency) (models.Agency, error) {
	agency.Code = strings.ToUpper(strings.TrimSpace(agency.Code))
	agency.Name = strings.TrimSpace(agency.Name)
	agency.City = strings.TrimSpace(agency.City)
	if agency.Code == "" || agency.Name == "" {
		return models.Agency{}, fmt.Errorf("%w: code and name are required", store.ErrInvalidRequest)
	}
	agency.AgencyID = uuid.NewString()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agencies (agency_id, code, name, city)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, agency.AgencyID, agency.Code, agency.Name, agency.City).Scan(&agency.CreatedAt)
	if err != nil {
		return models.Agency{}, mapWriteError(err)
	}
	return agency, nil
}

func (s *Store) ListAgencies(ctx context.Context) ([]models.Agency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agency_id::text, code, name, city, created_at
		FROM agencies
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	defer rows.Close()

	agencies := []models.Agency{}
	for rows.Next() {
		var a models.Agency
		if err := rows.Scan(&a.AgencyID, &a.Code, &a.Name, &a.City, &a.CreatedAt); err != nil {
			return nil, err
		}
		agencies = append(agencies, a)
	}
	return agencies, rows.Err()
}

func (s *Store) CreateServicePoint(ctx context.Context, point models.ServicePoint) (models.ServicePoint, error) {
	point.Name = strings.TrimSpace(point.Name)
	if point.Name == "" || point.AgencyID == "" {
		return models.ServicePoint{}, fmt.Errorf("%w: agency_id and name are required", store.ErrInvalidRequest)
	}
	point.ServicePointID = uuid.NewString()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO service_points (service_point_id, agency_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, point.ServicePointID, point.AgencyID, point.Name).Scan(&point.CreatedAt)
	if err != nil {
		return models.ServicePoint{}, mapWriteError(err)
	}
	return point, nil
}

func (s *Store) ListServicePoints(ctx context.Context, agencyID string) ([]models.ServicePoint, error) {
	query := `
		SELECT service_point_id::text, agency_id::text, name, created_at
		FROM service_points
	`
	args := []interface{}{}
	if agencyID != "" {
		query += " WHERE agency_id = $1"
		args = append(args, agencyID)
	}
	query += " ORDER BY name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list service points: %w", err)
	}
	defer rows.Close()

	points := []models.ServicePoint{}
	for rows.Next() {
		var p models.ServicePoint
		if err := rows.Scan(&p.ServicePointID, &p.AgencyID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) InsertAudit(ctx context.Context, entry models.AuditLog) error {
	if entry.AuditID == "" {
		entry.AuditID = uuid.NewString()
	}
	details := entry.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (audit_id, actor_id, action, entity_type, entity_id, ip, user_agent, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.AuditID, nullIfEmpty(entry.ActorID), entry.Action, entry.EntityType, entry.EntityID, entry.IP, entry.UserAgent, details)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, filter store.AuditFilter) ([]models.AuditLog, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, `
		SELECT audit_id::text, COALESCE(actor_id::text, ''), action, entity_type, entity_id, ip, user_agent, details, created_at
		FROM audit_logs
		WHERE `+clause+`
		ORDER BY created_at DESC, audit_id
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditLog{}
	for rows.Next() {
		var e models.AuditLog
		var details []byte
		if err := rows.Scan(&e.AuditID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &e.IP, &e.UserAgent, &details, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Details = details
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
