package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	TierResidential = "residential"
	TierCommercial  = "commercial"
	TierCondominium = "condominium"
)

// PlanConfig carries the base monthly allotment of every plan tier.
type PlanConfig struct {
	Tiers               map[string]TierAllotment `mapstructure:"tiers"`
	HoursPerAppointment float64                  `mapstructure:"hours_per_appointment"`
}

type TierAllotment struct {
	Hours        float64 `mapstructure:"hours"`
	Appointments int     `mapstructure:"appointments"`
}

// Allotment returns the allotment for a tier name, matched case-insensitively.
func (c PlanConfig) Allotment(tier string) (TierAllotment, bool) {
	allotment, ok := c.Tiers[strings.ToLower(strings.TrimSpace(tier))]
	return allotment, ok
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Tiers: map[string]TierAllotment{
			TierResidential: {Hours: 6, Appointments: 2},
			TierCommercial:  {Hours: 12, Appointments: 4},
			TierCondominium: {Hours: 0, Appointments: 0},
		},
		HoursPerAppointment: 3,
	}
}

type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

// NewPlanConfigHolder reads plans.yml from the standard locations and keeps it hot-reloaded.
func NewPlanConfigHolder(log *zap.Logger) (*PlanConfigHolder, error) {
	return newPlanConfigHolder(log, "/var/lib/homecare/config", "/etc/homecare", ".")
}

// NewStaticPlanConfigHolder returns a holder pinned to cfg.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func newPlanConfigHolder(log *zap.Logger, paths ...string) (*PlanConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.plans")

	v := viper.New()
	v.SetConfigName("plans")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("HOMECARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
		defaults := DefaultPlanConfig()
		tiers := make(map[string]any, len(defaults.Tiers))
		for name, allotment := range defaults.Tiers {
			tiers[name] = map[string]any{
				"hours":        allotment.Hours,
				"appointments": allotment.Appointments,
			}
		}
		v.SetDefault("plans.tiers", tiers)
		v.SetDefault("plans.hours_per_appointment", defaults.HoursPerAppointment)
	}

	cfg, err := decodePlanConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		log.Info("plans config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlanConfig(v)
		if err != nil {
			log.Warn("invalid plans config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plans config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

func decodePlanConfig(v *viper.Viper) (PlanConfig, error) {
	var cfg PlanConfig
	if err := v.UnmarshalKey("plans", &cfg); err != nil {
		return PlanConfig{}, err
	}
	normalized := make(map[string]TierAllotment, len(cfg.Tiers))
	for name, allotment := range cfg.Tiers {
		normalized[strings.ToLower(strings.TrimSpace(name))] = allotment
	}
	cfg.Tiers = normalized
	if err := validatePlanConfig(cfg); err != nil {
		return PlanConfig{}, err
	}
	return cfg, nil
}

func validatePlanConfig(cfg PlanConfig) error {
	for _, tier := range []string{TierResidential, TierCommercial, TierCondominium} {
		allotment, ok := cfg.Tiers[tier]
		if !ok {
			return fmt.Errorf("plans.tiers.%s is required", tier)
		}
		if allotment.Hours < 0 || allotment.Appointments < 0 {
			return fmt.Errorf("plans.tiers.%s cannot be negative", tier)
		}
	}
	if cfg.HoursPerAppointment <= 0 {
		return errors.New("plans.hours_per_appointment must be positive")
	}
	return nil
}
