// Package schema discovers which resource collections exist on the server and
// chooses where records are written.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	dbhttp "github.com/fivetwenty-io/docbridge/internal/http"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Executor issues requests for the probe.
type Executor interface {
	Execute(ctx context.Context, req *dbhttp.Request) (*dbhttp.Response, error)
}

// Probe checks resource existence once per name and memoizes the aggregate.
type Probe struct {
	executor Executor
	config   *docbridge.Config
	logger   docbridge.Logger
	now      func() time.Time

	group     singleflight.Group
	aggregate singleflight.Group

	mutex  sync.RWMutex
	cache  map[string]docbridge.ResourceInfo
	system *docbridge.SystemInfo
}

// NewProbe creates a probe for one session.
func NewProbe(executor Executor, config *docbridge.Config, logger docbridge.Logger) *Probe {
	if logger == nil {
		logger = docbridge.NopLogger{}
	}

	return &Probe{
		executor: executor,
		config:   config,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]docbridge.ResourceInfo),
	}
}

// Probe reports whether name exists and is reachable. Results are cached by
// name; concurrent callers for one name share a single check. Optional names
// are probed without logging.
func (p *Probe) Probe(ctx context.Context, name string, optional bool) docbridge.ResourceInfo {
	if info, ok := p.cached(name); ok {
		return info
	}

	result, _, _ := p.group.Do(name, func() (interface{}, error) {
		if info, ok := p.cached(name); ok {
			return info, nil
		}

		info := p.check(ctx, name)

		if ctx.Err() != nil {
			return info, nil
		}

		p.mutex.Lock()
		p.cache[name] = info
		p.mutex.Unlock()

		if !optional {
			p.logOutcome(info)
		}

		return info, nil
	})

	info, _ := result.(docbridge.ResourceInfo)

	return info
}

func (p *Probe) cached(name string) (docbridge.ResourceInfo, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	info, ok := p.cache[name]

	return info, ok
}

func (p *Probe) check(ctx context.Context, name string) docbridge.ResourceInfo {
	info := docbridge.ResourceInfo{Name: name}

	_, metaErr := p.executor.Execute(ctx, &dbhttp.Request{
		Method: http.MethodGet,
		Path:   p.config.DocumentPath(constants.MetadataResource, name),
		Strict: true,
	})
	if metaErr == nil {
		info.Exists = true
		info.Accessible = true

		return info
	}

	query := url.Values{constants.PageLengthParam: []string{strconv.Itoa(constants.ProbePageLength)}}

	if len(p.config.Fields) > 0 {
		fields, err := json.Marshal(p.config.Fields)
		if err == nil {
			query.Set(constants.FieldsParam, string(fields))
		}
	}

	_, listErr := p.executor.Execute(ctx, &dbhttp.Request{
		Method: http.MethodGet,
		Path:   p.config.ResourcePath(name),
		Query:  query,
		Strict: true,
	})
	if listErr == nil {
		info.Exists = true
		info.Accessible = true

		return info
	}

	info.Error = metaErr.Error()

	return info
}

func (p *Probe) logOutcome(info docbridge.ResourceInfo) {
	fields := map[string]interface{}{
		"resource":   info.Name,
		"exists":     info.Exists,
		"accessible": info.Accessible,
	}

	if info.Exists {
		p.logger.Info("Resource available", fields)

		return
	}

	fields["error"] = info.Error
	p.logger.Warn("Resource unavailable", fields)
}

// Aggregate probes required and optional names, derives recommendations and
// picks the write target. The result is memoized for the session.
func (p *Probe) Aggregate(ctx context.Context, required, optional []string) (*docbridge.SystemInfo, error) {
	if system := p.System(); system != nil {
		return system, nil
	}

	result, err, _ := p.aggregate.Do("system", func() (interface{}, error) {
		if system := p.System(); system != nil {
			return system, nil
		}

		system := &docbridge.SystemInfo{CheckedAt: p.now()}

		for _, name := range required {
			system.Required = append(system.Required, p.Probe(ctx, name, false))
		}

		for _, name := range optional {
			system.Optional = append(system.Optional, p.Probe(ctx, name, true))
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("system discovery interrupted: %w", err)
		}

		p.derive(system)

		p.mutex.Lock()
		p.system = system
		p.mutex.Unlock()

		return system, nil
	})
	if err != nil {
		return nil, err
	}

	system, _ := result.(*docbridge.SystemInfo)

	return copySystem(system), nil
}

func (p *Probe) derive(system *docbridge.SystemInfo) {
	primary := p.config.Resource

	var available []string

	for _, name := range p.config.FallbackResources {
		if info, ok := system.Lookup(name); ok && info.Exists {
			available = append(available, name)
		}
	}

	primaryInfo, probed := system.Lookup(primary)
	primaryMissing := probed && !primaryInfo.Exists

	for _, info := range system.Required {
		if info.Exists {
			continue
		}

		if info.Name == primary && len(available) > 0 {
			system.Recommendations = append(system.Recommendations,
				fmt.Sprintf("Resource %q is unavailable; switch to fallback resource %q", primary, available[0]))

			continue
		}

		system.Recommendations = append(system.Recommendations,
			fmt.Sprintf("Resource %q is unavailable and no fallback resource exists", info.Name))
	}

	for _, name := range available {
		system.FallbacksAvailable = append(system.FallbacksAvailable,
			fmt.Sprintf("%s is available as a fallback for %s", name, primary))
	}

	system.WriteTarget = primary

	if primaryMissing && len(available) > 0 {
		if p.config.FallbackMode {
			system.WriteTarget = available[0]
		} else {
			system.Recommendations = append(system.Recommendations, "Enable fallback mode to write to an available fallback resource")
		}
	}
}

// System returns the memoized SystemInfo without I/O, or nil.
func (p *Probe) System() *docbridge.SystemInfo {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.system == nil {
		return nil
	}

	return copySystem(p.system)
}

// Snapshot returns every cached ResourceInfo sorted by name, without I/O.
func (p *Probe) Snapshot() []docbridge.ResourceInfo {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	infos := make([]docbridge.ResourceInfo, 0, len(p.cache))
	for _, info := range p.cache {
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

func copySystem(system *docbridge.SystemInfo) *docbridge.SystemInfo {
	if system == nil {
		return nil
	}

	out := *system
	out.Required = slices.Clone(system.Required)
	out.Optional = slices.Clone(system.Optional)
	out.Recommendations = slices.Clone(system.Recommendations)
	out.FallbacksAvailable = slices.Clone(system.FallbacksAvailable)

	return &out
}
