package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/dbx"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/presets"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/requests"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/users"
	"github.com/dmitrijs2005/vpnaccess/internal/xui"
)

// In-memory repository fakes. They ignore the dbx handle entirely, so the
// surrounding *sql.DB only has to satisfy Begin/Commit expectations.

type fakeUserRepo struct {
	users  map[int64]*models.User
	nextID int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*models.User)}
}

func (r *fakeUserRepo) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	for _, u := range r.users {
		if u.TelegramID == user.TelegramID {
			u.FullName = user.FullName
			u.Username = user.Username
			u.IsAdmin = user.IsAdmin
			return u, nil
		}
	}
	r.nextID++
	u := *user
	u.ID = r.nextID
	r.users[u.ID] = &u
	return &u, nil
}

func (r *fakeUserRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	for _, u := range r.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) List(ctx context.Context) ([]*models.User, error) {
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeUserRepo) ListWithActiveProfile(ctx context.Context) ([]*models.User, error) {
	return r.List(ctx)
}

type fakeProfileRepo struct {
	profiles        map[int64]*models.Profile
	nextID          int64
	createActiveErr error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[int64]*models.Profile)}
}

func (r *fakeProfileRepo) CreateActive(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	if r.createActiveErr != nil {
		return nil, r.createActiveErr
	}
	if err := r.DeactivateAll(ctx, profile.UserID); err != nil {
		return nil, err
	}
	r.nextID++
	p := *profile
	p.ID = r.nextID
	p.IsActive = true
	p.CreatedAt = time.Now()
	r.profiles[p.ID] = &p
	return &p, nil
}

func (r *fakeProfileRepo) DeactivateAll(ctx context.Context, userID int64) error {
	for _, p := range r.profiles {
		if p.UserID == userID {
			p.IsActive = false
		}
	}
	return nil
}

func (r *fakeProfileRepo) GetActiveByUser(ctx context.Context, userID int64) (*models.Profile, error) {
	for _, p := range r.profiles {
		if p.UserID == userID && p.IsActive {
			return p, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeProfileRepo) GetByID(ctx context.Context, id int64) (*models.Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return p, nil
}

func (r *fakeProfileRepo) DeleteByUser(ctx context.Context, userID int64) error {
	for id, p := range r.profiles {
		if p.UserID == userID {
			delete(r.profiles, id)
		}
	}
	return nil
}

func (r *fakeProfileRepo) UpdateSettings(ctx context.Context, profileID int64, settings models.ProfileSettings) error {
	p, ok := r.profiles[profileID]
	if !ok {
		return common.ErrorNotFound
	}
	p.Settings = settings
	return nil
}

type fakeRequestRepo struct {
	requests map[int64]*models.AccessRequest
	nextID   int64
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[int64]*models.AccessRequest)}
}

func (r *fakeRequestRepo) Create(ctx context.Context, userID int64) (*models.AccessRequest, error) {
	r.nextID++
	req := &models.AccessRequest{
		ID:        r.nextID,
		UserID:    userID,
		Status:    models.RequestPending,
		CreatedAt: time.Now(),
	}
	r.requests[req.ID] = req
	return req, nil
}

func (r *fakeRequestRepo) GetByID(ctx context.Context, id int64) (*models.AccessRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return req, nil
}

func (r *fakeRequestRepo) HasPending(ctx context.Context, userID int64) (bool, error) {
	for _, req := range r.requests {
		if req.UserID == userID && req.Status == models.RequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRequestRepo) process(id int64, status models.RequestStatus, comment string) error {
	req, ok := r.requests[id]
	if !ok || req.Status != models.RequestPending {
		return common.ErrAlreadyProcessed
	}
	now := time.Now()
	req.Status = status
	req.ProcessedAt = &now
	req.AdminComment = comment
	return nil
}

func (r *fakeRequestRepo) Approve(ctx context.Context, id int64, comment string) error {
	return r.process(id, models.RequestApproved, comment)
}

func (r *fakeRequestRepo) Reject(ctx context.Context, id int64, comment string) error {
	return r.process(id, models.RequestRejected, comment)
}

func (r *fakeRequestRepo) ListPending(ctx context.Context) ([]*models.AccessRequest, error) {
	var out []*models.AccessRequest
	for _, req := range r.requests {
		if req.Status == models.RequestPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePresetRepo struct {
	presets map[int64]*models.Preset
	nextID  int64
}

func newFakePresetRepo() *fakePresetRepo {
	return &fakePresetRepo{presets: make(map[int64]*models.Preset)}
}

func (r *fakePresetRepo) Create(ctx context.Context, preset *models.Preset) (*models.Preset, error) {
	r.nextID++
	p := *preset
	p.ID = r.nextID
	p.CreatedAt = time.Now()
	r.presets[p.ID] = &p
	return &p, nil
}

func (r *fakePresetRepo) GetByID(ctx context.Context, id int64) (*models.Preset, error) {
	p, ok := r.presets[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return p, nil
}

func (r *fakePresetRepo) ListByUser(ctx context.Context, userID int64) ([]*models.Preset, error) {
	var out []*models.Preset
	for _, p := range r.presets {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakePresetRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.presets[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.presets, id)
	return nil
}

type fakeRepoManager struct {
	userRepo    *fakeUserRepo
	profileRepo *fakeProfileRepo
	requestRepo *fakeRequestRepo
	presetRepo  *fakePresetRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		userRepo:    newFakeUserRepo(),
		profileRepo: newFakeProfileRepo(),
		requestRepo: newFakeRequestRepo(),
		presetRepo:  newFakePresetRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository                  { return m.userRepo }
func (m *fakeRepoManager) Profiles(db dbx.DBTX) profiles.Repository            { return m.profileRepo }
func (m *fakeRepoManager) Requests(db dbx.DBTX) requests.Repository            { return m.requestRepo }
func (m *fakeRepoManager) Presets(db dbx.DBTX) presets.Repository              { return m.presetRepo }

// fakePanel records calls and serves canned settings per inbound.
type fakePanel struct {
	createErr   error
	deleteErr   error
	deleteFound bool
	created     []xui.ClientRef
	deleted     []string
	settings    map[int]xui.ProtocolSettings
	settingsErr error
	traffic     xui.Traffic
	status      xui.ServerStatus
	online      []string
	healthy     bool
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		deleteFound: true,
		settings:    make(map[int]xui.ProtocolSettings),
		healthy:     true,
	}
}

func (p *fakePanel) CreateClient(ctx context.Context, inboundID int, email, protocol string) (*xui.ClientRef, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	ref := xui.ClientRef{
		ClientID:  fmt.Sprintf("client-%d", len(p.created)+1),
		Email:     email,
		Protocol:  protocol,
		InboundID: inboundID,
	}
	p.created = append(p.created, ref)
	return &ref, nil
}

func (p *fakePanel) DeleteClient(ctx context.Context, inboundID int, email string) (bool, error) {
	if p.deleteErr != nil {
		return false, p.deleteErr
	}
	p.deleted = append(p.deleted, email)
	return p.deleteFound, nil
}

func (p *fakePanel) GetClientTraffic(ctx context.Context, email string) (xui.Traffic, error) {
	return p.traffic, nil
}

func (p *fakePanel) GetProtocolSettings(ctx context.Context, inboundID int) (xui.ProtocolSettings, error) {
	if p.settingsErr != nil {
		return xui.ProtocolSettings{}, p.settingsErr
	}
	s, ok := p.settings[inboundID]
	if !ok {
		return xui.ProtocolSettings{}, common.ErrorNotFound
	}
	return s, nil
}

func (p *fakePanel) ServerStatus(ctx context.Context) (xui.ServerStatus, error) {
	return p.status, nil
}

func (p *fakePanel) OnlineClients(ctx context.Context) []string { return p.online }

func (p *fakePanel) HealthCheck(ctx context.Context) bool { return p.healthy }
