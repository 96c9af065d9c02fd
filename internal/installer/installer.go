// Package installer materializes spices into their install directory.
//
// An install downloads the archive, extracts it into a temp dir, compiles
// translations, copies the tree into a hidden staging sibling of the target
// and swaps it into place. The previous version is only removed once the new
// one is in place; a failed swap restores it.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/spices/internal/activity"
	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/fetch"
	"github.com/starford/spices/internal/localmeta"
	"github.com/starford/spices/internal/metadata"
	"github.com/starford/spices/internal/models"
)

// Actions recorded in the activity log.
const (
	ActionInstall   = "install"
	ActionUpgrade   = "upgrade"
	ActionUninstall = "uninstall"
)

// Recorder receives one entry per completed action.
type Recorder interface {
	Record(e activity.Entry)
}

// Options configures an Installer.
type Options struct {
	Type       models.PackageType
	BaseURL    string
	InstallDir string
	// LocaleDir receives compiled translations as
	// <LocaleDir>/<lang>/LC_MESSAGES/<uuid>.mo.
	LocaleDir string
	// SettingsDir holds per-uuid settings, removed on uninstall.
	SettingsDir string
	Client      *fetch.Client
	Compiler    Compiler
	Activity    Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Installer installs, upgrades and removes spices of one type.
type Installer struct {
	kind        models.PackageType
	baseURL     string
	installDir  string
	localeDir   string
	settingsDir string
	client      *fetch.Client
	compiler    Compiler
	activity    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// Result describes a completed action.
type Result struct {
	OperationID string             `json:"operation_id"`
	UUID        string             `json:"uuid"`
	Type        models.PackageType `json:"type"`
	Action      string             `json:"action"`
	OldVersion  string             `json:"old_version,omitempty"`
	NewVersion  string             `json:"new_version,omitempty"`
	LastEdited  int64              `json:"last_edited,omitempty"`
	Path        string             `json:"path"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// New creates an installer.
func New(opts Options) *Installer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Compiler == nil {
		opts.Compiler = Msgfmt{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Installer{
		kind:        opts.Type,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		installDir:  opts.InstallDir,
		localeDir:   opts.LocaleDir,
		settingsDir: opts.SettingsDir,
		client:      opts.Client,
		compiler:    opts.Compiler,
		activity:    opts.Activity,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// InstallDir is where spices are installed.
func (i *Installer) InstallDir() string { return i.installDir }

// Install downloads entry and installs it. previous is the currently
// installed version, if any; its presence makes the action an upgrade.
func (i *Installer) Install(ctx context.Context, entry models.RemoteEntry, previous *models.LocalEntry) (*Result, error) {
	const op = "install"
	if err := checkWritable(op, entry.UUID, previous); err != nil {
		return nil, err
	}
	if entry.File == "" {
		return nil, apperr.Parse(op, entry.UUID, errors.New("index entry has no archive"))
	}

	work, err := os.MkdirTemp("", "spices-"+entry.UUID+"-")
	if err != nil {
		return nil, apperr.Filesystem(op, entry.UUID, err)
	}
	defer os.RemoveAll(work)

	archive := filepath.Join(work, "archive.zip")
	if err := i.download(ctx, entry, archive); err != nil {
		return nil, err
	}

	extracted := filepath.Join(work, "extract")
	if err := extract(archive, extracted); err != nil {
		return nil, apperr.Parse("extract archive", entry.UUID, err)
	}
	src := filepath.Join(extracted, entry.UUID)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return nil, apperr.Parse("extract archive", entry.UUID,
			fmt.Errorf("archive has no top-level %s/ directory", entry.UUID))
	}

	return i.materialize(ctx, entry.UUID, src, entry.LastEdited, previous)
}

func (i *Installer) download(ctx context.Context, entry models.RemoteEntry, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return apperr.Filesystem("download archive", entry.UUID, err)
	}
	_, err = i.client.Download(ctx, i.baseURL+entry.File, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		return apperr.Filesystem("download archive", entry.UUID, cerr)
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.UUID == "" {
			ae.UUID = entry.UUID
		}
		return err
	}
	return nil
}

// FolderUUID returns the uuid a local folder would be installed as: the
// uuid field of its metadata, or the folder name.
func FolderUUID(kind models.PackageType, src string) string {
	if !kind.IsTheme() {
		if meta, err := metadata.Read(localmeta.MetadataPath(kind, src)); err == nil && meta.UUID != "" {
			return meta.UUID
		}
	}
	return filepath.Base(filepath.Clean(src))
}

// InstallFromFolder installs an unpacked spice from a local folder.
// last-edited is set to the current time.
func (i *Installer) InstallFromFolder(ctx context.Context, src string, previous *models.LocalEntry) (*Result, error) {
	id := FolderUUID(i.kind, src)
	if err := checkWritable("install from folder", id, previous); err != nil {
		return nil, err
	}
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("install from folder", id)
	}
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", src)
		}
		return nil, apperr.Filesystem("install from folder", id, err)
	}
	return i.materialize(ctx, id, src, i.now().Unix(), previous)
}

func (i *Installer) materialize(ctx context.Context, id, src string, lastEdited int64, previous *models.LocalEntry) (*Result, error) {
	res := &Result{
		OperationID: uuid.NewString(),
		UUID:        id,
		Type:        i.kind,
		Action:      ActionInstall,
		NewVersion:  models.VersionString(lastEdited),
		LastEdited:  lastEdited,
		Path:        filepath.Join(i.installDir, id),
	}
	if previous != nil {
		res.Action = ActionUpgrade
		if previous.HasLastEdited {
			res.OldVersion = models.VersionString(previous.LastEdited)
		}
	}
	logger := i.logger.With(
		slog.String("operation_id", res.OperationID),
		slog.String("type", i.kind.String()),
		slog.String("uuid", id))

	if err := os.MkdirAll(i.installDir, 0o755); err != nil {
		return nil, apperr.Filesystem(res.Action, id, err)
	}

	if !i.kind.IsTheme() {
		res.Warnings = append(res.Warnings, i.compileTranslations(ctx, id, src)...)
	}

	staging, err := os.MkdirTemp(i.installDir, "."+id+".staging-")
	if err != nil {
		return nil, apperr.Filesystem(res.Action, id, err)
	}
	cleanup := func() { _ = os.RemoveAll(staging) }

	if err := copyTree(src, staging); err != nil {
		cleanup()
		return nil, apperr.Filesystem("copy files", id, err)
	}
	if !i.kind.IsTheme() {
		if err := normalizeModes(staging); err != nil {
			cleanup()
			return nil, apperr.Filesystem("set permissions", id, err)
		}
	}
	if err := metadata.SetLastEdited(localmeta.MetadataPath(i.kind, staging), id, lastEdited); err != nil {
		cleanup()
		return nil, apperr.Filesystem("write metadata", id, err)
	}

	if err := i.swap(res.Path, staging, id); err != nil {
		cleanup()
		return nil, err
	}

	for _, w := range res.Warnings {
		logger.Warn("installer: warning", slog.String("detail", w))
	}
	logger.Info("installer: done",
		slog.String("action", res.Action),
		slog.String("old_version", res.OldVersion),
		slog.String("new_version", res.NewVersion))
	i.record(res.Action, id, res.OldVersion, res.NewVersion)
	return res, nil
}

// swap moves staging to target. An existing target is set aside first and
// restored if the final rename fails.
func (i *Installer) swap(target, staging, id string) error {
	var aside string
	if _, err := os.Lstat(target); err == nil {
		aside = filepath.Join(i.installDir, fmt.Sprintf(".%s.old-%d", id, i.now().UnixNano()))
		if err := os.Rename(target, aside); err != nil {
			return apperr.Filesystem("replace installed version", id, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return apperr.Filesystem("replace installed version", id, err)
	}

	if err := os.Rename(staging, target); err != nil {
		if aside != "" {
			if rerr := os.Rename(aside, target); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restore previous version: %w", rerr))
			}
		}
		return apperr.Partial("move into place", id, err)
	}

	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			i.logger.Warn("installer: removing previous version failed",
				slog.String("uuid", id), slog.String("path", aside), slog.String("error", err.Error()))
		}
	}
	return nil
}

// compileTranslations compiles <src>/po/*.po. Failures are returned as
// warnings.
func (i *Installer) compileTranslations(ctx context.Context, id, src string) []string {
	if i.localeDir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(src, "po", "*.po"))
	if err != nil || len(files) == 0 {
		return nil
	}
	var warnings []string
	for _, po := range files {
		lang := strings.TrimSuffix(filepath.Base(po), ".po")
		dir := filepath.Join(i.localeDir, lang, "LC_MESSAGES")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			warnings = append(warnings, fmt.Sprintf("translation %s: %v", lang, err))
			continue
		}
		if err := i.compiler.Compile(ctx, po, filepath.Join(dir, id+".mo")); err != nil {
			warnings = append(warnings, fmt.Sprintf("translation %s: %v", lang, err))
		}
	}
	return warnings
}

// Uninstall removes an installed spice together with its compiled
// translations and settings.
func (i *Installer) Uninstall(_ context.Context, previous models.LocalEntry) (*Result, error) {
	const op = "uninstall"
	if err := checkWritable(op, previous.UUID, &previous); err != nil {
		return nil, err
	}
	if previous.Path == "" {
		return nil, apperr.NotFound(op, previous.UUID)
	}
	if err := os.RemoveAll(previous.Path); err != nil {
		return nil, apperr.Filesystem(op, previous.UUID, err)
	}

	res := &Result{
		OperationID: uuid.NewString(),
		UUID:        previous.UUID,
		Type:        i.kind,
		Action:      ActionUninstall,
		Path:        previous.Path,
	}
	if previous.HasLastEdited {
		res.OldVersion = models.VersionString(previous.LastEdited)
	}

	if !i.kind.IsTheme() {
		if i.localeDir != "" {
			mos, _ := filepath.Glob(filepath.Join(i.localeDir, "*", "LC_MESSAGES", previous.UUID+".mo"))
			for _, mo := range mos {
				if err := os.Remove(mo); err != nil {
					res.Warnings = append(res.Warnings, fmt.Sprintf("remove %s: %v", mo, err))
				}
			}
		}
		if i.settingsDir != "" {
			if err := os.RemoveAll(filepath.Join(i.settingsDir, previous.UUID)); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("remove settings: %v", err))
			}
		}
	}

	i.logger.Info("installer: removed",
		slog.String("operation_id", res.OperationID),
		slog.String("type", i.kind.String()),
		slog.String("uuid", previous.UUID))
	i.record(ActionUninstall, previous.UUID, res.OldVersion, "none")
	return res, nil
}

func (i *Installer) record(action, id, oldVersion, newVersion string) {
	if i.activity == nil {
		return
	}
	i.activity.Record(activity.Entry{
		Time:       i.now(),
		Type:       i.kind.String(),
		Action:     action,
		UUID:       id,
		OldVersion: oldVersion,
		NewVersion: newVersion,
	})
}

func checkWritable(op, id string, previous *models.LocalEntry) error {
	if previous != nil && !previous.Writable {
		return apperr.Filesystem(op, id, fmt.Errorf("%s is read-only", previous.Path))
	}
	return nil
}
