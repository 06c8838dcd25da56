package interp

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/turtacn/Lingua/internal/cleanup"
	"github.com/turtacn/Lingua/internal/invoker"
	"github.com/turtacn/Lingua/pkg/consts"
	"github.com/turtacn/Lingua/pkg/errors"
	"github.com/turtacn/Lingua/pkg/protocol"
)

// Factory creates one runtime per invoker.
type Factory struct {
	source Source
	codec  cleanup.Codec
	limits Limits
}

func NewFactory(source Source, codec cleanup.Codec, limits Limits) *Factory {
	return &Factory{source: source, codec: codec, limits: limits}
}

// LimitsFromConfig converts the interpreter section of the configuration.
func LimitsFromConfig(c protocol.InterpreterConfig) Limits {
	l := DefaultLimits()
	l.MaxExecutionTime = c.MaxExecution()
	l.GracePeriod = c.Grace()
	if len(c.AllowedModules) > 0 {
		l.AllowedModules = append([]string(nil), c.AllowedModules...)
	}
	return l
}

// New returns a fresh runtime for language.
func (f *Factory) New(language consts.Language) (invoker.Runtime, error) {
	switch language {
	case consts.LanguageTengo:
		return NewTengoRuntime(f.source, f.codec, f.limits), nil
	default:
		return nil, errors.New(errors.ErrCodeLanguageUnsupported, "NewRuntime",
			fmt.Sprintf("unsupported script language %q", language), nil)
	}
}

// ForScript picks the runtime from the script's file extension.
func (f *Factory) ForScript(name string) (invoker.Runtime, error) {
	lang, err := LanguageFor(name)
	if err != nil {
		return nil, err
	}
	return f.New(lang)
}

// LanguageFor maps a script name to its language by extension.
func LanguageFor(name string) (consts.Language, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if lang, ok := consts.ScriptExtensions[ext]; ok {
		return lang, nil
	}
	return "", errors.New(errors.ErrCodeLanguageUnsupported, "LanguageFor",
		fmt.Sprintf("no interpreter for %q", name), nil)
}

// Supported lists the languages the factory can create, sorted.
func Supported() []consts.Language {
	langs := lo.Uniq(lo.Values(consts.ScriptExtensions))
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// Personal.AI order the ending
