package main

import (
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/ethrdev/cognitive-memory-sub004/internal/config"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier/llmclassifier"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings"
	embeddingsmock "github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings/mock"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings/ollama"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings/openai"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge/llmjudge"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge/staged"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/llm"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/llm/anyllm"
	llmopenai "github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/llm/openai"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality/llmneutrality"
)

// anyllmProviderNames lists every backend github.com/mozilla-ai/any-llm-go
// exposes that the classifier/neutrality/judge oracles may run against,
// aside from "openai" which uses the native OpenAI SDK provider instead
// (pkg/oracle/llm/openai) for lower overhead.
var anyllmProviderNames = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"}

// registerBuiltinProviders wires every built-in oracle implementation into
// reg under the names [config.ValidProviderNames] advertises.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return openai.New(e.APIKey, e.Model)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return ollama.New(e.BaseURL, e.Model)
	})
	reg.RegisterEmbeddings("mock", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return &embeddingsmock.Provider{DimensionsValue: 1536, ModelIDValue: "mock"}, nil
	})

	reg.RegisterClassifier("openai", func(e config.ProviderEntry) (classifier.Classifier, error) {
		p, err := llmOpenAI(e)
		if err != nil {
			return nil, err
		}
		return llmclassifier.New(p), nil
	})
	reg.RegisterNeutrality("openai", func(e config.ProviderEntry) (neutrality.Checker, error) {
		p, err := llmOpenAI(e)
		if err != nil {
			return nil, err
		}
		return llmneutrality.New(p), nil
	})
	reg.RegisterJudge("openai", func(e config.ProviderEntry) (judge.Evaluator, error) {
		p, err := llmOpenAI(e)
		if err != nil {
			return nil, err
		}
		return llmjudge.New(p), nil
	})

	for _, name := range anyllmProviderNames {
		name := name
		reg.RegisterClassifier(name, func(e config.ProviderEntry) (classifier.Classifier, error) {
			p, err := anyllm.New(name, e.Model, anyllmOptions(e)...)
			if err != nil {
				return nil, err
			}
			return llmclassifier.New(p), nil
		})
		reg.RegisterNeutrality(name, func(e config.ProviderEntry) (neutrality.Checker, error) {
			p, err := anyllm.New(name, e.Model, anyllmOptions(e)...)
			if err != nil {
				return nil, err
			}
			return llmneutrality.New(p), nil
		})
		reg.RegisterJudge(name, func(e config.ProviderEntry) (judge.Evaluator, error) {
			p, err := anyllm.New(name, e.Model, anyllmOptions(e)...)
			if err != nil {
				return nil, err
			}
			return llmjudge.New(p), nil
		})
	}
}

func llmOpenAI(e config.ProviderEntry) (llm.Provider, error) {
	var opts []llmopenai.Option
	if e.BaseURL != "" {
		opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
	}
	p, err := llmopenai.New(e.APIKey, e.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("openai llm provider: %w", err)
	}
	return p, nil
}

func anyllmOptions(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// engineProviders holds the four oracle providers that buildEngineProviders
// instantiates from cfg.
type engineProviders struct {
	Embeddings embeddings.Provider
	Classifier classifier.Classifier
	Neutrality neutrality.Checker
	Judge      judge.Evaluator
}

func buildEngineProviders(cfg *config.Config, reg *config.Registry) (*engineProviders, error) {
	ps := &engineProviders{}

	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	ps.Embeddings = emb
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	cl, err := reg.CreateClassifier(cfg.Providers.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier provider %q: %w", cfg.Providers.Classifier.Name, err)
	}
	ps.Classifier = cl
	slog.Info("provider created", "kind", "classifier", "name", cfg.Providers.Classifier.Name)

	nt, err := reg.CreateNeutrality(cfg.Providers.Neutrality)
	if err != nil {
		return nil, fmt.Errorf("create neutrality provider %q: %w", cfg.Providers.Neutrality.Name, err)
	}
	ps.Neutrality = nt
	slog.Info("provider created", "kind", "neutrality", "name", cfg.Providers.Neutrality.Name)

	jd, err := reg.CreateJudge(cfg.Providers.Judge)
	if err != nil {
		return nil, fmt.Errorf("create judge provider %q: %w", cfg.Providers.Judge.Name, err)
	}
	slog.Info("provider created", "kind", "judge", "name", cfg.Providers.Judge.Name)

	if cfg.Providers.JudgeSecondary.Name == "" {
		ps.Judge = jd
		return ps, nil
	}

	jd2, err := reg.CreateJudge(cfg.Providers.JudgeSecondary)
	if err != nil {
		return nil, fmt.Errorf("create judge_secondary provider %q: %w", cfg.Providers.JudgeSecondary.Name, err)
	}
	slog.Info("provider created", "kind", "judge_secondary", "name", cfg.Providers.JudgeSecondary.Name)

	ps.Judge = staged.New(jd, jd2, staged.Config{
		TransitionKappaThreshold:   cfg.Judge.TransitionKappaThreshold,
		SpotCheckRate:              cfg.Judge.SpotCheckRate,
		MinQueriesBeforeTransition: cfg.Judge.MinQueriesBeforeTransition,
	})
	slog.Info("staged dual-judge calibration enabled", "primary", cfg.Providers.Judge.Name, "secondary", cfg.Providers.JudgeSecondary.Name)

	return ps, nil
}
