// Package services contains server-side business logic. This file implements
// AccessService, the per-user state machine behind granting, rotating and
// revoking VPN credentials.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/dbx"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/dmitrijs2005/vpnaccess/internal/server/config"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vpnaccess/internal/vpnlink"
)

// AccessService drives the request→approval→profile state machine and keeps
// its two invariants: at most one active profile and at most one pending
// request per user. All panel mutations go through a per-inbound lock.
type AccessService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	panel  PanelAPI
	config *config.Config
	logger logging.Logger
	locks  *inboundLocks
}

// NewAccessService constructs an AccessService using repositories, the panel
// client and server config.
func NewAccessService(db *sql.DB, rm repomanager.RepositoryManager, panel PanelAPI, cfg *config.Config, logger logging.Logger) *AccessService {
	return &AccessService{
		db:     db,
		rm:     rm,
		panel:  panel,
		config: cfg,
		logger: logger.With("component", "access_service"),
		locks:  newInboundLocks(),
	}
}

// RegisterUser creates the user on first contact or refreshes the display
// fields. The admin flag comes from the configured operator list.
func (s *AccessService) RegisterUser(ctx context.Context, telegramID int64, fullName, username string) (*models.User, error) {
	user := &models.User{
		TelegramID: telegramID,
		FullName:   fullName,
		Username:   username,
		IsAdmin:    s.config.IsAdmin(telegramID),
	}
	u, err := s.rm.Users(s.db).Upsert(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error upserting user: %w", err)
	}
	return u, nil
}

// RequestAccess creates a pending access request. It fails with
// ErrConflictActiveOrPending when the user already has an active profile or
// a pending request.
func (s *AccessService) RequestAccess(ctx context.Context, telegramID int64) (*models.AccessRequest, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	var request *models.AccessRequest
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.rm.Profiles(tx).GetActiveByUser(ctx, user.ID); err == nil {
			return common.ErrConflictActiveOrPending
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		pending, err := s.rm.Requests(tx).HasPending(ctx, user.ID)
		if err != nil {
			return err
		}
		if pending {
			return common.ErrConflictActiveOrPending
		}

		request, err = s.rm.Requests(tx).Create(ctx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "access request created", "request_id", request.ID, "telegram_id", telegramID)
	return request, nil
}

// ApproveRequest creates the remote credential for the chosen protocol,
// persists the new active profile and moves the request to Approved. The
// local profile is committed only after the panel confirms the remote
// credential; if the local commit fails the remote client is removed again
// so the panel does not accumulate orphans.
func (s *AccessService) ApproveRequest(ctx context.Context, requestID int64, protocolName string) (string, error) {
	request, err := s.rm.Requests(s.db).GetByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	if request.Status != models.RequestPending {
		return "", common.ErrAlreadyProcessed
	}

	protocol, ok := s.config.FindProtocol(protocolName)
	if !ok {
		return "", common.ErrProtocolNotConfigured
	}

	user, err := s.rm.Users(s.db).GetByID(ctx, request.UserID)
	if err != nil {
		return "", err
	}

	// The user may have gained a profile since filing the request (e.g. via
	// a protocol switch); replace it rather than strand its panel client.
	if err := s.revokeUser(ctx, user); err != nil {
		return "", err
	}

	profile, err := s.createProfile(ctx, user, protocol)
	if err != nil {
		return "", err
	}

	if err := s.approveWithProfile(ctx, requestID, profile); err != nil {
		// Roll the remote credential back; the request stays pending and the
		// intent can be retried.
		unlock := s.locks.Lock(protocol.InboundID)
		if _, delErr := s.panel.DeleteClient(ctx, protocol.InboundID, profile.Data.Email); delErr != nil {
			s.logger.Warn(ctx, "failed to roll back remote client", "email", profile.Data.Email, "error", delErr)
		}
		unlock()
		return "", err
	}

	s.logger.Info(ctx, "request approved", "request_id", requestID, "protocol", protocolName)

	link, err := s.renderLink(ctx, profile)
	if err != nil {
		// The approval is committed; a link fetch hiccup must not undo it.
		s.logger.Warn(ctx, "approved but link rendering failed", "request_id", requestID, "error", err)
		return "", nil
	}
	return link, nil
}

// approveWithProfile commits the request transition and the new profile in
// one transaction.
func (s *AccessService) approveWithProfile(ctx context.Context, requestID int64, profile *models.Profile) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Requests(tx).Approve(ctx, requestID, ""); err != nil {
			return err
		}
		_, err := s.rm.Profiles(tx).CreateActive(ctx, profile)
		return err
	})
}

// createProfile performs the remote create under the inbound lock and builds
// the local profile record. Nothing is persisted here.
func (s *AccessService) createProfile(ctx context.Context, user *models.User, protocol config.Protocol) (*models.Profile, error) {
	label := clientLabel(user)

	unlock := s.locks.Lock(protocol.InboundID)
	defer unlock()

	ref, err := s.panel.CreateClient(ctx, protocol.InboundID, label, protocol.Name)
	if err != nil {
		return nil, err
	}

	return &models.Profile{
		UserID:       user.ID,
		ProtocolName: protocol.Name,
		Data: models.ProfileData{
			ClientID:  ref.ClientID,
			Email:     ref.Email,
			Protocol:  ref.Protocol,
			InboundID: ref.InboundID,
		},
	}, nil
}

// RejectRequest moves a pending request to Rejected. No panel call is made.
func (s *AccessService) RejectRequest(ctx context.Context, requestID int64, comment string) error {
	if err := s.rm.Requests(s.db).Reject(ctx, requestID, comment); err != nil {
		return err
	}
	s.logger.Info(ctx, "request rejected", "request_id", requestID)
	return nil
}

// SwitchProtocol revokes the user's current credential (if any) and creates
// a new one for the chosen protocol. No access request is involved. The two
// steps are explicit: a failure after the revoke leaves the user with no
// active profile rather than a half-switched one.
func (s *AccessService) SwitchProtocol(ctx context.Context, telegramID int64, protocolName string) (string, error) {
	protocol, ok := s.config.FindProtocol(protocolName)
	if !ok {
		return "", common.ErrProtocolNotConfigured
	}

	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}

	if err := s.revokeUser(ctx, user); err != nil {
		return "", err
	}

	profile, err := s.createProfile(ctx, user, protocol)
	if err != nil {
		return "", err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.rm.Profiles(tx).CreateActive(ctx, profile)
		return err
	})
	if err != nil {
		unlock := s.locks.Lock(protocol.InboundID)
		if _, delErr := s.panel.DeleteClient(ctx, protocol.InboundID, profile.Data.Email); delErr != nil {
			s.logger.Warn(ctx, "failed to roll back remote client", "email", profile.Data.Email, "error", delErr)
		}
		unlock()
		return "", err
	}

	s.logger.Info(ctx, "protocol switched", "telegram_id", telegramID, "protocol", protocolName)

	link, err := s.renderLink(ctx, profile)
	if err != nil {
		s.logger.Warn(ctx, "switched but link rendering failed", "telegram_id", telegramID, "error", err)
		return "", nil
	}
	return link, nil
}

// RevokeAccess removes the user's credential. Idempotent: a user without an
// active profile revokes successfully with no effect.
func (s *AccessService) RevokeAccess(ctx context.Context, telegramID int64) error {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	return s.revokeUser(ctx, user)
}

// revokeUser deletes the remote client best-effort and always cleans up the
// local profile rows. A panel failure leaves at worst a stale server-side
// client; local state is authoritative for who has access.
func (s *AccessService) revokeUser(ctx context.Context, user *models.User) error {
	profile, err := s.rm.Profiles(s.db).GetActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}

	unlock := s.locks.Lock(profile.Data.InboundID)
	found, err := s.panel.DeleteClient(ctx, profile.Data.InboundID, profile.Data.Email)
	unlock()
	if err != nil {
		s.logger.Warn(ctx, "remote delete failed, removing local profile anyway",
			"email", profile.Data.Email, "error", err)
	} else if !found {
		s.logger.Info(ctx, "remote client already absent", "email", profile.Data.Email)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Profiles(tx).DeactivateAll(ctx, user.ID); err != nil {
			return err
		}
		return s.rm.Profiles(tx).DeleteByUser(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "access revoked", "telegram_id", user.TelegramID)
	return nil
}

// UpdateSNI sets the user's SNI override after validating it against the SNI
// candidates the panel currently advertises for the profile's inbound. The
// panel is re-read on every update: it may be reconfigured out-of-band and a
// stale candidate would break the user's connection silently. An SNI outside
// the advertised list is rejected by returning false, with stored settings
// untouched.
func (s *AccessService) UpdateSNI(ctx context.Context, telegramID int64, sni string) (bool, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return false, err
	}

	profile, err := s.rm.Profiles(s.db).GetActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}

	settings, err := s.panel.GetProtocolSettings(ctx, profile.Data.InboundID)
	if err != nil {
		return false, err
	}
	if settings.Reality == nil || !containsString(settings.Reality.ServerNames, sni) {
		return false, nil
	}

	profile.Settings.SNI = sni
	if err := s.rm.Profiles(s.db).UpdateSettings(ctx, profile.ID, profile.Settings); err != nil {
		return false, err
	}

	s.logger.Info(ctx, "sni updated", "telegram_id", telegramID, "sni", sni)
	return true, nil
}

// ListSNIOptions returns the SNI candidates currently advertised for the
// user's active profile. The first entry is the default.
func (s *AccessService) ListSNIOptions(ctx context.Context, telegramID int64) ([]string, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	profile, err := s.rm.Profiles(s.db).GetActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	settings, err := s.panel.GetProtocolSettings(ctx, profile.Data.InboundID)
	if err != nil {
		return nil, err
	}
	if settings.Reality == nil {
		return nil, nil
	}
	return settings.Reality.ServerNames, nil
}

// GetActiveLink renders the connection URI for the user's active profile
// using the panel's current protocol settings plus the stored overrides.
// An unsupported protocol yields "", nil: no link available.
func (s *AccessService) GetActiveLink(ctx context.Context, telegramID int64) (string, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}
	profile, err := s.rm.Profiles(s.db).GetActiveByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	return s.renderLink(ctx, profile)
}

// renderLink merges live panel settings with the stored profile and renders
// the protocol URI.
func (s *AccessService) renderLink(ctx context.Context, profile *models.Profile) (string, error) {
	settings, err := s.panel.GetProtocolSettings(ctx, profile.Data.InboundID)
	if err != nil {
		return "", err
	}

	link := vpnlink.Profile{
		Protocol: profile.ProtocolName,
		ClientID: profile.Data.ClientID,
		Email:    profile.Data.Email,
		Host:     s.config.VPNHost,
		Port:     settings.Port,
		Remark:   settings.Remark,
	}
	if settings.Reality != nil {
		link.Reality = &vpnlink.Reality{
			PublicKey:      settings.Reality.PublicKey,
			Fingerprint:    settings.Reality.Fingerprint,
			DefaultSNI:     settings.Reality.DefaultSNI(),
			DefaultShortID: settings.Reality.ShortID,
			SpiderX:        settings.Reality.SpiderX,
		}
	}
	if settings.Shadowsocks != nil {
		link.Shadowsocks = &vpnlink.Shadowsocks{
			Method:   settings.Shadowsocks.Method,
			Password: settings.Shadowsocks.Password,
		}
	}

	uri, ok := vpnlink.Render(link, vpnlink.Overrides{SNI: profile.Settings.SNI})
	if !ok {
		return "", nil
	}
	return uri, nil
}

// GetStats reads the user's traffic counters. Best-effort: a panel-side miss
// yields zeros.
func (s *AccessService) GetStats(ctx context.Context, telegramID int64) (models.Traffic, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return models.Traffic{}, err
	}
	profile, err := s.rm.Profiles(s.db).GetActiveByUser(ctx, user.ID)
	if err != nil {
		return models.Traffic{}, err
	}

	traffic, err := s.panel.GetClientTraffic(ctx, profile.Data.Email)
	if err != nil {
		return models.Traffic{}, err
	}
	return models.Traffic{UploadBytes: traffic.UploadBytes, DownloadBytes: traffic.DownloadBytes}, nil
}

// ListPendingRequests returns all pending requests in creation order.
func (s *AccessService) ListPendingRequests(ctx context.Context) ([]*models.AccessRequest, error) {
	return s.rm.Requests(s.db).ListPending(ctx)
}

// ListUsersWithActiveProfile returns every user currently holding access.
func (s *AccessService) ListUsersWithActiveProfile(ctx context.Context) ([]*models.User, error) {
	return s.rm.Users(s.db).ListWithActiveProfile(ctx)
}

// ServerStatus aggregates panel-wide client and traffic counters.
func (s *AccessService) ServerStatus(ctx context.Context) (models.ServerStatus, error) {
	status, err := s.panel.ServerStatus(ctx)
	if err != nil {
		return models.ServerStatus{}, err
	}
	return models.ServerStatus{
		Online:        status.Online,
		Inbounds:      status.Inbounds,
		Clients:       status.Clients,
		UploadBytes:   status.UploadBytes,
		DownloadBytes: status.DownloadBytes,
	}, nil
}

// OnlineClients returns the labels of currently connected clients.
func (s *AccessService) OnlineClients(ctx context.Context) []string {
	return s.panel.OnlineClients(ctx)
}

// clientLabel derives the panel-side label from the Telegram username,
// keeping only letters, digits, '_' and '-'. Users without a usable username
// get "user_<telegram id>".
func clientLabel(user *models.User) string {
	var b strings.Builder
	for _, r := range user.Username {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	return fmt.Sprintf("user_%d", user.TelegramID)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
