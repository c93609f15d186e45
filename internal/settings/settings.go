package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"groupkeeper/internal/cache"
	"groupkeeper/internal/repo"
)

var (
	// ErrUnknownField is returned when an update names a field that does not exist.
	ErrUnknownField = errors.New("unknown settings field")
	// ErrInvalid is returned when a value cannot be parsed or fails validation.
	ErrInvalid = errors.New("invalid settings value")
)

const (
	flightKey         = "settings"
	invalidateChannel = "settings:invalidate"
)

// Defaults returns the settings used when the store has no row yet.
func Defaults() repo.Settings {
	return repo.Settings{
		CheckInPoints:        10,
		CheckInLimit:         1,
		InviteRewardPoints:   20,
		MaxDailyPoints:       100,
		ActivityRewardChance: 0.15,
		ActivityRewardPoints: 1,
		SpamLimit:            4,
		SpamWindowSeconds:    3,
		VoucherCost:          500,
		VoucherBuyEnabled:    true,
		SpinCost:             1,
		MediaDeleteSeconds:   0,
		AdminMediaExempt:     true,
		ReferralMinMessages:  0,
	}
}

// fieldIndex maps json field names to struct field positions of repo.Settings.
var fieldIndex = func() map[string]int {
	idx := make(map[string]int)
	t := reflect.TypeOf(repo.Settings{})
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		idx[name] = i
	}
	return idx
}()

// Fields lists the names accepted by Update, sorted.
func Fields() []string {
	names := make([]string, 0, len(fieldIndex))
	for name := range fieldIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store serves a cached settings snapshot and writes partial updates through to the repository.
// Readers never see a partially applied update: the cache holds immutable copies.
type Store struct {
	repo     repo.Repository
	logger   *slog.Logger
	validate *validator.Validate

	current atomic.Pointer[repo.Settings]
	gen     atomic.Uint64
	group   singleflight.Group
	bus     atomic.Pointer[cache.Redis]
}

// New constructs a settings store.
func New(r repo.Repository, logger *slog.Logger) *Store {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.Split(f.Tag.Get("json"), ",")[0]
	})
	return &Store{
		repo:     r,
		logger:   logger.With("component", "settings"),
		validate: v,
	}
}

// Get returns the current settings, loading them (and creating defaults) on a cache miss.
func (s *Store) Get(ctx context.Context) (repo.Settings, error) {
	if cur := s.current.Load(); cur != nil {
		return *cur, nil
	}

	gen := s.gen.Load()
	v, err, _ := s.group.Do(flightKey, func() (any, error) {
		loaded, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		// An update committed while loading; leave the cache empty so the next Get reloads.
		if s.gen.Load() == gen {
			s.current.Store(loaded)
		}
		return loaded, nil
	})
	if err != nil {
		return repo.Settings{}, err
	}
	return *v.(*repo.Settings), nil
}

func (s *Store) load(ctx context.Context) (*repo.Settings, error) {
	cur, err := s.repo.GetSettings(ctx)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	s.logger.Info("settings row missing, inserting defaults")
	if err := s.repo.InsertSettingsIfMissing(ctx, Defaults()); err != nil {
		return nil, err
	}
	cur, err = s.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return cur, nil
}

// Update applies the named overrides atomically and invalidates the cache.
// Unknown names fail with ErrUnknownField and bad values with ErrInvalid; nothing is written then.
func (s *Store) Update(ctx context.Context, changes map[string]string) (repo.Settings, error) {
	if len(changes) == 0 {
		return s.Get(ctx)
	}
	probe := Defaults()
	if err := apply(&probe, changes); err != nil {
		return repo.Settings{}, err
	}
	// Make sure the singleton row exists before locking it.
	if _, err := s.Get(ctx); err != nil {
		return repo.Settings{}, err
	}

	var updated repo.Settings
	err := s.repo.WithTx(ctx, func(tx repo.Tx) error {
		cur, err := tx.LockSettings(ctx)
		if err != nil {
			return err
		}
		next := *cur
		if err := apply(&next, changes); err != nil {
			return err
		}
		if err := s.check(next); err != nil {
			return err
		}
		if err := tx.SaveSettings(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return repo.Settings{}, err
	}

	s.Invalidate()
	if bus := s.bus.Load(); bus != nil {
		if err := bus.Publish(ctx, invalidateChannel, "update"); err != nil {
			s.logger.Warn("publish settings invalidation", "error", err)
		}
	}
	s.logger.Info("settings updated", "fields", keys(changes))
	return updated, nil
}

// Watch shares cache invalidation with other processes through r. Updates made here
// are published, and updates published by other processes drop this cache.
func (s *Store) Watch(ctx context.Context, r *cache.Redis) error {
	err := r.Subscribe(ctx, invalidateChannel, func(string) {
		s.Invalidate()
		s.logger.Debug("settings invalidated by another process")
	})
	if err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	s.bus.Store(r)
	return nil
}

// Invalidate drops the cached snapshot.
func (s *Store) Invalidate() {
	s.gen.Add(1)
	s.current.Store(nil)
	s.group.Forget(flightKey)
}

func (s *Store) check(v repo.Settings) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func apply(dst *repo.Settings, changes map[string]string) error {
	v := reflect.ValueOf(dst).Elem()
	for name, raw := range changes {
		i, ok := fieldIndex[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		raw = strings.TrimSpace(raw)
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Float64:
			x, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, name, raw)
			}
			f.SetFloat(x)
		case reflect.Int, reflect.Int64:
			x, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, name, raw)
			}
			f.SetInt(x)
		case reflect.Bool:
			x, err := parseBool(raw)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, name, raw)
			}
			f.SetBool(x)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}
	return nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
