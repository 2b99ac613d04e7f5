package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/resolver"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

// Job modes.
const (
	// ModeResolve creates entities and re-keys the records.
	ModeResolve = "resolve"
	// ModeAttach re-keys records against a published entity table.
	ModeAttach = "attach"
)

// EntityTable names the maestro holding a job's entity table: published by
// resolve jobs, read by attach jobs.
type EntityTable struct {
	Maestro string `yaml:"maestro,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// Job is a declarative dataset import. Built-in adapters and YAML job files
// are both Jobs.
type Job struct {
	Name      string          `yaml:"id"`
	Desc      string          `yaml:"description"`
	Input     string          `yaml:"input"`
	Mode      string          `yaml:"mode"`
	Sheet     string          `yaml:"sheet,omitempty"`
	Delimiter string          `yaml:"delimiter,omitempty"`
	Encoding  string          `yaml:"encoding,omitempty"`
	Output    string          `yaml:"output,omitempty"`
	Entities  EntityTable     `yaml:"entities,omitempty"`
	Config    resolver.Config `yaml:"config"`

	resolver *resolver.Resolver
}

func (j *Job) ID() string           { return j.Name }
func (j *Job) Description() string  { return j.Desc }
func (j *Job) DefaultInput() string { return j.Input }

// compile validates the job and builds its resolver.
func (j *Job) compile() error {
	if j.Name == "" {
		return errors.New("job: missing id")
	}
	switch j.Mode {
	case "":
		j.Mode = ModeResolve
	case ModeResolve:
	case ModeAttach:
		if j.Entities.Maestro == "" {
			return fmt.Errorf("job %s: attach mode requires entities.maestro", j.Name)
		}
	default:
		return fmt.Errorf("job %s: unknown mode %q", j.Name, j.Mode)
	}
	if utf8.RuneCountInString(j.Delimiter) > 1 {
		return fmt.Errorf("job %s: delimiter %q is not a single character", j.Name, j.Delimiter)
	}
	if j.Output == "" {
		j.Output = j.Name + "_with_entity_id.csv"
	}

	r, err := resolver.New(j.Config)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	j.resolver = r
	j.Config = r.Config()
	return nil
}

func mustCompile(j *Job) *Job {
	if err := j.compile(); err != nil {
		panic(err)
	}
	return j
}

// LoadJob reads and validates a YAML job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", path, err)
	}
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", path, err)
	}
	if err := j.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &j, nil
}

// RegisterJobs loads every *.yaml / *.yml job in dir and registers it.
// A missing directory registers nothing.
func RegisterJobs(dir string) ([]*Job, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs dir %s: %w", dir, err)
	}

	var jobs []*Job
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		j, err := LoadJob(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	for _, j := range jobs {
		Register(j)
	}
	return jobs, nil
}

// ReadOptions returns how the job's input file is read.
func (j *Job) ReadOptions() tabular.ReadOptions {
	opts := tabular.ReadOptions{Sheet: j.Sheet, Encoding: j.Encoding, LowerHeaders: true}
	if j.Delimiter != "" {
		opts.Delimiter, _ = utf8.DecodeRuneInString(j.Delimiter)
	}
	return opts
}

// Resolve runs the job's resolution over an in-memory frame without writing
// anything.
func (j *Job) Resolve(frame *tabular.Frame, maestros *maestro.Registry) (*resolver.Result, error) {
	refs := resolver.References(maestros.References())
	if j.Mode != ModeAttach {
		return j.resolver.Resolve(frame, refs)
	}

	path, err := maestros.DataPath(j.Entities.Maestro)
	if err != nil {
		return nil, fmt.Errorf("entity table: %w", err)
	}
	ef, err := tabular.ReadFile(path, tabular.ReadOptions{LowerHeaders: true})
	if err != nil {
		return nil, fmt.Errorf("entity table: %w", err)
	}
	index, err := resolver.LoadEntityIndex(ef, j.Config)
	if err != nil {
		return nil, fmt.Errorf("entity table %s: %w", j.Entities.Maestro, err)
	}
	return j.resolver.Attach(frame, refs, index)
}

// Import reads the input, resolves it and writes the outputs. Resolve jobs
// with an entity maestro publish their entity table into the maestros
// directory and reload the registry.
func (j *Job) Import(ctx context.Context, req Request) (*Report, error) {
	log := req.logger().With("adapter", j.Name)
	input := req.Input
	if input == "" {
		input = j.Input
	}
	if err := ensureDir(req.OutputDir); err != nil {
		return nil, err
	}

	local, cleanup, err := fetchInput(ctx, input, req.OutputDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	frame, err := tabular.ReadFile(local, j.ReadOptions())
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	log.Info("input loaded", "input", input, "rows", frame.Len(), "columns", len(frame.Columns))

	res, err := j.Resolve(frame, req.Maestros)
	if err != nil {
		return nil, err
	}

	rep := &Report{Adapter: j.Name, Input: input, Stats: res.Stats}
	out := filepath.Join(req.OutputDir, j.Output)
	if err := tabular.WriteFile(out, res.RecordFrame()); err != nil {
		return nil, fmt.Errorf("write records: %w", err)
	}
	rep.Outputs = append(rep.Outputs, out)

	if j.Mode == ModeResolve {
		path, err := j.writeEntities(req, res)
		if err != nil {
			if rmErr := os.Remove(out); rmErr != nil {
				log.Error("remove records after failed publish", "path", out, "error", rmErr)
			}
			return nil, err
		}
		rep.Outputs = append(rep.Outputs, path)
	}

	for dim, vals := range res.Stats.Unresolved {
		log.Warn("unresolved natural keys", "dimension", dim, "count", len(vals), "values", vals)
	}
	log.Info("import complete",
		"records", res.Stats.Records,
		"entities", res.Stats.Entities,
		"unresolved", res.Stats.UnresolvedCount(),
		"unmatched", res.Stats.Unmatched,
	)
	return rep, nil
}

// writeEntities writes the entity table, either as a published maestro or
// next to the records.
func (j *Job) writeEntities(req Request, res *resolver.Result) (string, error) {
	if j.Entities.Maestro == "" {
		path := filepath.Join(req.OutputDir, j.Name+"_entities.csv")
		if err := tabular.WriteFile(path, res.EntityFrame()); err != nil {
			return "", fmt.Errorf("write entities: %w", err)
		}
		return path, nil
	}

	dir := filepath.Join(req.Maestros.Dir(), j.Entities.Maestro)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "data.csv")
	if err := tabular.WriteFile(path, res.EntityFrame()); err != nil {
		return "", fmt.Errorf("publish entities: %w", err)
	}
	err := maestro.WriteManifest(dir, &maestro.Manifest{
		ID:        j.Entities.Maestro,
		Version:   j.Entities.Version,
		Dimension: j.Config.EntityColumn,
		Kind:      maestro.KindEntities,
		Source:    j.Name,
		DataFile:  "data.csv",
		Format:    maestro.FormatSpec{HasHeader: true},
	})
	if err != nil {
		return "", fmt.Errorf("publish entities: %w", err)
	}
	if err := req.Maestros.Reload(); err != nil {
		return "", fmt.Errorf("reload maestros: %w", err)
	}
	return path, nil
}
