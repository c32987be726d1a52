package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dmarcview.org/internal/ids"
	"dmarcview.org/internal/model"
)

var _ Store = (*PG)(nil)

// PG implements Store against PostgreSQL. Bind it to a transaction with
// WithTx so mutation steps run inside an orchestrator session.
type PG struct {
	q Querier
}

// New returns a store executing against the given database handle.
func New(q Querier) *PG {
	return &PG{q: q}
}

// Open connects to PostgreSQL with pool defaults tuned for request-scoped
// read bursts.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// WithTx returns a store bound to an open transaction.
func (p *PG) WithTx(tx *sql.Tx) *PG {
	return &PG{q: tx}
}

func (p *PG) Users() UserStore                 { return &userStore{q: p.q} }
func (p *PG) Organizations() OrganizationStore { return &orgStore{q: p.q} }
func (p *PG) Affiliations() AffiliationStore   { return &affiliationStore{q: p.q} }
func (p *PG) Domains() DomainStore             { return &domainStore{q: p.q} }
func (p *PG) Claims() ClaimStore               { return &claimStore{q: p.q} }

// User store ---------------------------------------------------------------

type userStore struct{ q Querier }

const userColumns = `id, email, locale, email_verified, phone_verified, password_hash,
	coalesce(refresh_id,''), coalesce(refresh_expires_at, 'epoch'::timestamptz), created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx,
		`insert into users(id, email, locale, email_verified, phone_verified, password_hash)
		 values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.Locale, u.EmailVerified, u.PhoneVerified, u.PasswordHash,
	)
	return err
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Locale, &u.EmailVerified, &u.PhoneVerified,
		&u.PasswordHash, &u.RefreshID, &u.RefreshExpiresAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) SetRefreshID(ctx context.Context, userID, refreshID string, expiresAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`update users set refresh_id=$2, refresh_expires_at=$3, updated_at=now() where id=$1`,
		userID, refreshID, expiresAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Organization store -------------------------------------------------------

type orgStore struct{ q Querier }

const orgColumns = `id, slug, name, acronym, locale, verified, created_at, updated_at`

func (s *orgStore) Create(ctx context.Context, org *model.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx,
		`insert into organizations(id, slug, name, acronym, locale, verified)
		 values($1,$2,$3,$4,$5,$6)`,
		org.ID, org.Slug, org.Name, org.Acronym, org.Locale, org.Verified,
	)
	return err
}

func scanOrg(row *sql.Row) (*model.Organization, error) {
	var org model.Organization
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.Acronym, &org.Locale,
		&org.Verified, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *orgStore) Find(ctx context.Context, id string) (*model.Organization, error) {
	return scanOrg(s.q.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where id=$1`, id))
}

func (s *orgStore) FindBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	return scanOrg(s.q.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where slug=$1`, slug))
}

// Affiliation store --------------------------------------------------------

type affiliationStore struct{ q Querier }

func (s *affiliationStore) Find(ctx context.Context, userID, orgID string) (*model.Affiliation, error) {
	row := s.q.QueryRowContext(ctx,
		`select user_id, org_id, role, created_at from affiliations where user_id=$1 and org_id=$2`,
		userID, orgID)
	var a model.Affiliation
	if err := row.Scan(&a.UserID, &a.OrgID, &a.Role, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *affiliationStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`select count(*) from affiliations where user_id=$1`, userID).Scan(&n)
	return n, err
}

func (s *affiliationStore) Upsert(ctx context.Context, a model.Affiliation) error {
	// Uniqueness of the (user, org) pair is enforced here: a duplicate
	// invite is a no-op, never a second edge.
	_, err := s.q.ExecContext(ctx,
		`insert into affiliations(user_id, org_id, role) values($1,$2,$3)
		 on conflict (user_id, org_id) do nothing`,
		a.UserID, a.OrgID, a.Role,
	)
	return err
}

func (s *affiliationStore) Delete(ctx context.Context, userID, orgID string) error {
	res, err := s.q.ExecContext(ctx,
		`delete from affiliations where user_id=$1 and org_id=$2`, userID, orgID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Domain store -------------------------------------------------------------

type domainStore struct{ q Querier }

const domainColumns = `id, host, selectors, dmarc_status, spf_status, dkim_status, created_at, updated_at`

func (s *domainStore) Create(ctx context.Context, d *model.Domain) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	selectors, _ := json.Marshal(d.Selectors)
	_, err := s.q.ExecContext(ctx,
		`insert into domains(id, host, selectors, dmarc_status, spf_status, dkim_status)
		 values($1,$2,$3,$4,$5,$6)`,
		d.ID, d.Host, selectors, d.DMARCStatus, d.SPFStatus, d.DKIMStatus,
	)
	return err
}

func scanDomain(row *sql.Row) (*model.Domain, error) {
	var (
		d   model.Domain
		raw []byte
	)
	err := row.Scan(&d.ID, &d.Host, &raw, &d.DMARCStatus, &d.SPFStatus, &d.DKIMStatus,
		&d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(raw, &d.Selectors)
	return &d, nil
}

func (s *domainStore) Find(ctx context.Context, id string) (*model.Domain, error) {
	return scanDomain(s.q.QueryRowContext(ctx,
		`select `+domainColumns+` from domains where id=$1`, id))
}

func (s *domainStore) FindByHost(ctx context.Context, host string) (*model.Domain, error) {
	return scanDomain(s.q.QueryRowContext(ctx,
		`select `+domainColumns+` from domains where host=$1`, host))
}

func (s *domainStore) SelectorsForUpdate(ctx context.Context, id string) ([]string, error) {
	var raw []byte
	err := s.q.QueryRowContext(ctx,
		`select selectors from domains where id=$1 for update`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var selectors []string
	_ = json.Unmarshal(raw, &selectors)
	return selectors, nil
}

func (s *domainStore) SetSelectors(ctx context.Context, id string, selectors []string) error {
	raw, _ := json.Marshal(selectors)
	_, err := s.q.ExecContext(ctx,
		`update domains set selectors=$2, updated_at=now() where id=$1`, id, raw)
	return err
}

// Claim store --------------------------------------------------------------

type claimStore struct{ q Querier }

func (s *claimStore) Create(ctx context.Context, c model.Claim) error {
	_, err := s.q.ExecContext(ctx,
		`insert into claims(org_id, domain_id) values($1,$2)
		 on conflict (org_id, domain_id) do nothing`,
		c.OrgID, c.DomainID,
	)
	return err
}

func (s *claimStore) Exists(ctx context.Context, orgID, domainID string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`select count(*) from claims where org_id=$1 and domain_id=$2`, orgID, domainID).Scan(&n)
	return n > 0, err
}

func (s *claimStore) OrgsClaiming(ctx context.Context, domainID, userID string, verifiedOnly bool) ([]string, error) {
	query := `select o.id
		from claims c
		join organizations o on o.id = c.org_id
		join affiliations a on a.org_id = c.org_id and a.user_id = $2
		where c.domain_id = $1`
	if verifiedOnly {
		query += ` and o.verified`
	}
	rows, err := s.q.QueryContext(ctx, query, domainID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}
