package orchestrator

import (
	"errors"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// Config holds orchestrator settings.
type Config struct {
	// StageTimeouts overrides DefaultStageTimeout per stage.
	StageTimeouts map[common.Stage]time.Duration `mapstructure:"stage_timeouts" json:"stage_timeouts"`
	// DefaultStageTimeout bounds a stage, all sub-batches included.
	DefaultStageTimeout time.Duration `mapstructure:"default_stage_timeout" json:"default_stage_timeout"`
	// MaxEntitiesPerRequest splits larger stage inputs into sequential
	// sub-batches.
	MaxEntitiesPerRequest int `mapstructure:"max_entities_per_request" json:"max_entities_per_request"`
	// ConfidenceFloor drops entities whose validated confidence falls below it.
	ConfidenceFloor float64 `mapstructure:"confidence_floor" json:"confidence_floor"`
	// MaxValidationAdjustment bounds validation changes around the scorer's
	// confidence.
	MaxValidationAdjustment float64 `mapstructure:"max_validation_adjustment" json:"max_validation_adjustment"`
	// EnabledStages restricts the stage sequence. Empty means all stages.
	EnabledStages []common.Stage `mapstructure:"enabled_stages" json:"enabled_stages"`
}

// NewConfig returns the default settings.
func NewConfig() Config {
	return Config{
		StageTimeouts: map[common.Stage]time.Duration{
			common.StageValidation:            2 * time.Second,
			common.StageEnhancement:           3 * time.Second,
			common.StageRelationshipDiscovery: 3 * time.Second,
			common.StageCitationRefinement:    2 * time.Second,
			common.StageErrorCorrection:       3 * time.Second,
		},
		DefaultStageTimeout:     3 * time.Second,
		MaxEntitiesPerRequest:   50,
		ConfidenceFloor:         0.3,
		MaxValidationAdjustment: 0.3,
	}
}

func (c Config) withDefaults() Config {
	d := NewConfig()
	if c.DefaultStageTimeout <= 0 {
		c.DefaultStageTimeout = d.DefaultStageTimeout
	}
	if c.MaxEntitiesPerRequest <= 0 {
		c.MaxEntitiesPerRequest = d.MaxEntitiesPerRequest
	}
	if c.MaxValidationAdjustment <= 0 {
		c.MaxValidationAdjustment = d.MaxValidationAdjustment
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return errors.New("confidence_floor must be within [0,1]")
	}
	if c.MaxValidationAdjustment < 0 || c.MaxValidationAdjustment > 1 {
		return errors.New("max_validation_adjustment must be within [0,1]")
	}
	for stage, d := range c.StageTimeouts {
		if _, ok := common.ParseStage(string(stage)); !ok {
			return errors.New("unknown stage in stage_timeouts: " + string(stage))
		}
		if d < 0 {
			return errors.New("negative timeout for stage " + string(stage))
		}
	}
	for _, s := range c.EnabledStages {
		if _, ok := common.ParseStage(string(s)); !ok {
			return errors.New("unknown stage in enabled_stages: " + string(s))
		}
	}
	return nil
}

// StageTimeout returns the timeout for stage.
func (c Config) StageTimeout(stage common.Stage) time.Duration {
	if d, ok := c.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	if c.DefaultStageTimeout > 0 {
		return c.DefaultStageTimeout
	}
	return NewConfig().DefaultStageTimeout
}

// TotalTimeout sums the timeouts of stages.
func (c Config) TotalTimeout(stages []common.Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += c.StageTimeout(s)
	}
	return total
}

//Personal.AI order the ending
