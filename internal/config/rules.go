package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RuleConfig carries the keyword and brand data consumed by the built-in
// gift rules. Tenant-specific rules live in the database; this file covers
// the process-wide defaults an operator can tune without a deploy.
type RuleConfig struct {
	GiftKeywords     []string `mapstructure:"giftKeywords"`
	LowPriceKeywords []string `mapstructure:"lowPriceKeywords"`
	ExcludedBrands   []string `mapstructure:"excludedBrands"`
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		GiftKeywords: []string{
			"사은품", "증정품", "무료", "샘플", "체험", "증정", "무료배송",
			"서비스", "덤", "추가", "보너스", "이벤트", "프로모션", "테스터",
			"시연", "체험용", "샘플용", "견본", "증정용",
		},
		LowPriceKeywords: []string{"사은품", "증정품", "샘플", "견본"},
		ExcludedBrands:   []string{"조이", "아이조이", "브라이텍스", "맥시코시"},
	}
}

type RuleConfigHolder struct {
	current atomic.Value // holds RuleConfig
}

// NewRuleConfigHolder loads rules.yml and keeps it hot-reloaded. Missing file
// means compiled-in defaults.
func NewRuleConfigHolder() (*RuleConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("rules")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/erpsync/config")
	v.AddConfigPath("/etc/erpsync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ERPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRuleConfig()
		v.SetDefault("classifier.giftKeywords", defaults.GiftKeywords)
		v.SetDefault("classifier.lowPriceKeywords", defaults.LowPriceKeywords)
		v.SetDefault("classifier.excludedBrands", defaults.ExcludedBrands)
	}

	var cfg RuleConfig
	if err := v.UnmarshalKey("classifier", &cfg); err != nil {
		return nil, err
	}
	if err := validateRuleConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RuleConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RuleConfig
		if err := v.UnmarshalKey("classifier", &updated); err != nil {
			log.Printf("[rule-config] reload failed: %v", err)
			return
		}
		if err := validateRuleConfig(updated); err != nil {
			log.Printf("[rule-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rule-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRuleConfigHolder wraps a fixed RuleConfig; used by tests and by
// callers that build an engine without the file watcher.
func NewStaticRuleConfigHolder(cfg RuleConfig) *RuleConfigHolder {
	holder := &RuleConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *RuleConfigHolder) Get() RuleConfig {
	return h.current.Load().(RuleConfig)
}

func validateRuleConfig(cfg RuleConfig) error {
	if len(cfg.GiftKeywords) == 0 {
		return errors.New("classifier.giftKeywords cannot be empty")
	}
	return nil
}
