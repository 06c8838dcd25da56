package cleanup

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Cleanup-mode argument flags produced by YAMLCodec.
const (
	ArgCleanup    = "--cleanup"
	ArgCleanupAll = "--cleanup-all"
	ArgCleanupIDs = "--cleanup-ids="
	ArgAddon      = "--addon="
)

// YAMLCodec decodes documents of the form
//
//	cleanup: true
//	timeouts:
//	  42: 30s
//	  7: 120
//
// where timeouts are delays relative to load time, either Go durations or
// whole seconds.
type YAMLCodec struct{}

type yamlDoc struct {
	Cleanup  bool           `yaml:"cleanup"`
	Timeouts map[int]string `yaml:"timeouts"`
}

func (YAMLCodec) Decode(raw []byte, now time.Time, t *Table) error {
	var doc yamlDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return errors.New(errors.ErrCodeCleanupLoad, "DecodeCleanup", "malformed cleanup document", err)
	}
	t.Immediate = doc.Cleanup
	for id, v := range doc.Timeouts {
		d, err := parseDelay(v)
		if err != nil {
			return errors.New(errors.ErrCodeCleanupLoad, "DecodeCleanup", fmt.Sprintf("bad timeout for id %d", id), err)
		}
		t.Timeouts[id] = now.Add(d)
	}
	return nil
}

func parseDelay(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative delay %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %s", v)
	}
	return d, nil
}

func (YAMLCodec) Args(a *addon.Addon, args []string, ids []int) []string {
	out := make([]string, 0, len(args)+3)
	out = append(out, args...)
	out = append(out, ArgCleanup)
	if a != nil {
		out = append(out, ArgAddon+a.ID)
	}
	if ids == nil {
		return append(out, ArgCleanupAll)
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	return append(out, ArgCleanupIDs+strings.Join(lo.Map(sorted, func(id int, _ int) string {
		return strconv.Itoa(id)
	}), ","))
}

// Personal.AI order the ending
