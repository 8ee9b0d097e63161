package services

import (
	"context"
	"database/sql"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/repomanager"
)

const qrImageSize = 512

// PresetService manages saved connection presets: named render
// configurations (format, app hint, per-preset overrides) bound to a
// profile. Presets outlive the profile; rendering one whose profile is gone
// fails with ErrorNotFound.
type PresetService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	access *AccessService
	logger logging.Logger
}

func NewPresetService(db *sql.DB, rm repomanager.RepositoryManager, access *AccessService, logger logging.Logger) *PresetService {
	return &PresetService{
		db:     db,
		rm:     rm,
		access: access,
		logger: logger.With("component", "preset_service"),
	}
}

// RenderedPreset is the output of RenderPreset: either a URI string or PNG
// bytes, depending on the preset's format.
type RenderedPreset struct {
	Format string
	URI    string
	PNG    []byte
}

// CreatePreset saves a preset for the user's currently active profile.
func (s *PresetService) CreatePreset(ctx context.Context, telegramID int64, name, appType, format string, options map[string]string) (*models.Preset, error) {
	if format != models.PresetFormatURI && format != models.PresetFormatQRPNG {
		return nil, fmt.Errorf("%w: unknown preset format %q", common.ErrorInternal, format)
	}

	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	profile, err := s.rm.Profiles(s.db).GetActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	preset := &models.Preset{
		UserID:    user.ID,
		ProfileID: profile.ID,
		Name:      name,
		AppType:   appType,
		Format:    format,
		Options:   options,
	}
	created, err := s.rm.Presets(s.db).Create(ctx, preset)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "preset created", "preset_id", created.ID, "name", name, "format", format)
	return created, nil
}

// ListPresets returns the user's presets, newest first.
func (s *PresetService) ListPresets(ctx context.Context, telegramID int64) ([]*models.Preset, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return s.rm.Presets(s.db).ListByUser(ctx, user.ID)
}

// DeletePreset removes the preset if it belongs to the user. A preset owned
// by somebody else is reported as not found rather than forbidden.
func (s *PresetService) DeletePreset(ctx context.Context, telegramID, presetID int64) error {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	preset, err := s.rm.Presets(s.db).GetByID(ctx, presetID)
	if err != nil {
		return err
	}
	if preset.UserID != user.ID {
		return common.ErrorNotFound
	}
	return s.rm.Presets(s.db).Delete(ctx, presetID)
}

// RenderPreset renders the preset against the referenced profile's current
// panel settings. The profile must still exist and be active; revoking
// access invalidates every preset pointing at the old profile.
func (s *PresetService) RenderPreset(ctx context.Context, telegramID, presetID int64) (*RenderedPreset, error) {
	user, err := s.rm.Users(s.db).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	preset, err := s.rm.Presets(s.db).GetByID(ctx, presetID)
	if err != nil {
		return nil, err
	}
	if preset.UserID != user.ID {
		return nil, common.ErrorNotFound
	}

	profile, err := s.rm.Profiles(s.db).GetByID(ctx, preset.ProfileID)
	if err != nil {
		return nil, err
	}
	if !profile.IsActive {
		return nil, common.ErrorNotFound
	}

	if sni, ok := preset.Options["sni"]; ok && sni != "" {
		profile.Settings.SNI = sni
	}

	uri, err := s.access.renderLink(ctx, profile)
	if err != nil {
		return nil, err
	}
	if uri == "" {
		return nil, common.ErrorNotFound
	}

	rendered := &RenderedPreset{Format: preset.Format, URI: uri}
	if preset.Format == models.PresetFormatQRPNG {
		png, err := qrcode.Encode(uri, qrcode.Medium, qrImageSize)
		if err != nil {
			return nil, fmt.Errorf("error encoding qr code: %w", err)
		}
		rendered.PNG = png
	}
	return rendered, nil
}
