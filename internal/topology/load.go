package topology

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/resourceflow/flowsim/internal/flow"
	"github.com/resourceflow/flowsim/internal/shape"
	"github.com/resourceflow/flowsim/internal/substance"
)

// fileRoot is used to decode all top-level blocks from any file.
type fileRoot struct {
	Vessels    []*vesselBlock    `hcl:"vessel,block"`
	Substances []*substanceBlock `hcl:"substance,block"`
	Parts      []*partBlock      `hcl:"part,block"`
	Pipes      []*pipeBlock      `hcl:"pipe,block"`
}

type vesselBlock struct {
	ID   string `hcl:"id,label"`
	Root string `hcl:"root"`
}

type substanceBlock struct {
	ID                string   `hcl:"id,label"`
	Name              *string  `hcl:"name,optional"`
	Color             *string  `hcl:"color,optional"`
	Phase             string   `hcl:"phase"`
	Density           float64  `hcl:"density"`
	ReferencePressure *float64 `hcl:"reference_pressure,optional"`
	BulkModulus       *float64 `hcl:"bulk_modulus,optional"`
	MolarMass         *float64 `hcl:"molar_mass,optional"`
}

type partBlock struct {
	Name     string     `hcl:"name,label"`
	Children []string   `hcl:"children,optional"`
	Tank     *tankBlock `hcl:"tank,block"`
}

type tankBlock struct {
	Shape        string           `hcl:"shape"`
	MaxVolume    float64          `hcl:"max_volume"`
	Acceleration []float64        `hcl:"acceleration,optional"`
	Nodes        []*nodeBlock     `hcl:"node,block"`
	Inlets       []*inletBlock    `hcl:"inlet,block"`
	Contents     []*contentsBlock `hcl:"contents,block"`
}

type nodeBlock struct {
	Position []float64 `hcl:"position"`
}

type inletBlock struct {
	Node int      `hcl:"node"`
	Area *float64 `hcl:"area,optional"`
}

type contentsBlock struct {
	Substance string  `hcl:"substance"`
	Mass      float64 `hcl:"mass"`
}

type pipeBlock struct {
	Name        string         `hcl:"name,label"`
	From        hcl.Expression `hcl:"from"`
	To          hcl.Expression `hcl:"to"`
	Conductance float64        `hcl:"conductance"`
	Remain      hcl.Body       `hcl:",remain"`
}

type pumpBlock struct {
	HeadAdded float64 `hcl:"head_added"`
}

type valveBlock struct {
	PercentOpen float64 `hcl:"percent_open"`
}

var modifierSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "pump"},
		{Type: "valve"},
	},
}

// EvalContext is the evaluation context vessel files are decoded with.
func EvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"g0": cty.NumberFloatVal(StandardGravity),
		},
	}
}

// Loader reads vessel files. Custom substance blocks are registered into its
// catalog, so one loader should be used per set of related files.
type Loader struct {
	Catalog *substance.Catalog
	logger  *slog.Logger
}

// NewLoader creates a loader resolving substances against cat. A nil catalog
// starts from the builtin substances.
func NewLoader(cat *substance.Catalog, logger *slog.Logger) *Loader {
	if cat == nil {
		cat = substance.Builtin()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Catalog: cat, logger: logger}
}

// Load reads vessels from the given files and directories with builtin
// substances.
func Load(paths ...string) ([]*Vessel, error) {
	return NewLoader(nil, nil).Load(paths...)
}

// Load parses every .hcl file under paths and resolves their vessels. Parts
// and pipes may be split across files. Files are read fresh on every call.
func (l *Loader) Load(paths ...string) ([]*Vessel, error) {
	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("discovered vessel files", "count", len(files))

	parser := hclparse.NewParser()
	var roots []*fileRoot
	for _, name := range files {
		f, diags := parser.ParseHCLFile(name)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse vessel file %s: %w", name, diags)
		}
		root, err := decodeFile(f, name)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return l.resolve(roots)
}

// LoadBytes reads vessels from a single in-memory file.
func (l *Loader) LoadBytes(src []byte, filename string) ([]*Vessel, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse vessel file %s: %w", filename, diags)
	}
	root, err := decodeFile(f, filename)
	if err != nil {
		return nil, err
	}
	return l.resolve([]*fileRoot{root})
}

func decodeFile(f *hcl.File, name string) (*fileRoot, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(f.Body, EvalContext(), &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode vessel file %s: %w", name, diags)
	}
	return &root, nil
}

func (l *Loader) resolve(roots []*fileRoot) ([]*Vessel, error) {
	for _, r := range roots {
		for _, sb := range r.Substances {
			s, err := sb.toSubstance()
			if err != nil {
				return nil, err
			}
			// reloading a file keeps its earlier, identical definitions
			if known, ok := l.Catalog.Get(s.ID); ok && *known == *s {
				continue
			}
			if err := l.Catalog.Register(s); err != nil {
				return nil, err
			}
		}
	}

	blocks := make(map[string]*partBlock)
	var order []string
	for _, r := range roots {
		for _, pb := range r.Parts {
			if _, dup := blocks[pb.Name]; dup {
				return nil, fmt.Errorf("part %s declared twice: %w", pb.Name, flow.ErrInvalidTopology)
			}
			blocks[pb.Name] = pb
			order = append(order, pb.Name)
		}
	}

	parts := make(map[string]*Part, len(blocks))
	for _, name := range order {
		pb := blocks[name]
		p := &Part{Name: pb.Name}
		if pb.Tank != nil {
			def, err := l.tankDef(pb.Name, pb.Tank)
			if err != nil {
				return nil, err
			}
			p.Tank = def
		}
		parts[name] = p
	}
	for _, name := range order {
		for _, child := range blocks[name].Children {
			c, ok := parts[child]
			if !ok {
				return nil, fmt.Errorf("part %s: unknown child %s: %w", name, child, flow.ErrInvalidTopology)
			}
			parts[name].Children = append(parts[name].Children, c)
		}
	}

	var pipes []PipeDef
	for _, r := range roots {
		for _, pb := range r.Pipes {
			pd, err := pb.toPipeDef()
			if err != nil {
				return nil, err
			}
			pipes = append(pipes, pd)
		}
	}

	var vessels []*Vessel
	for _, r := range roots {
		for _, vb := range r.Vessels {
			root, ok := parts[vb.Root]
			if !ok {
				return nil, fmt.Errorf("vessel %s: unknown root part %s: %w", vb.ID, vb.Root, flow.ErrInvalidTopology)
			}
			vessels = append(vessels, &Vessel{ID: vb.ID, Root: root, Pipes: pipes})
			l.logger.Debug("loaded vessel", "vessel", vb.ID, "root", vb.Root)
		}
	}
	return vessels, nil
}

func (sb *substanceBlock) toSubstance() (*substance.Substance, error) {
	phase, err := substance.ParsePhase(sb.Phase)
	if err != nil {
		return nil, fmt.Errorf("substance %s: %w", sb.ID, err)
	}
	s := &substance.Substance{
		ID:                sb.ID,
		Name:              sb.ID,
		Phase:             phase,
		ReferenceDensity:  sb.Density,
		ReferencePressure: substance.StandardPressure,
	}
	if sb.Name != nil {
		s.Name = *sb.Name
	}
	if sb.Color != nil {
		s.Color = *sb.Color
	}
	if sb.ReferencePressure != nil {
		s.ReferencePressure = *sb.ReferencePressure
	}
	if sb.BulkModulus != nil {
		s.BulkModulus = *sb.BulkModulus
	}
	if sb.MolarMass != nil {
		s.MolarMass = *sb.MolarMass
	}
	return s, nil
}

func (l *Loader) tankDef(part string, tb *tankBlock) (*TankDef, error) {
	kind, err := shape.ParseKind(tb.Shape)
	if err != nil {
		return nil, fmt.Errorf("part %s: %w", part, err)
	}
	if tb.MaxVolume <= 0 {
		return nil, fmt.Errorf("part %s: max_volume must be positive: %w", part, flow.ErrInvalidTopology)
	}

	def := &TankDef{Shape: kind, MaxVolume: tb.MaxVolume}
	if tb.Acceleration != nil {
		if def.Acceleration, err = toVec3(tb.Acceleration); err != nil {
			return nil, fmt.Errorf("part %s acceleration: %w", part, err)
		}
	}
	for i, nb := range tb.Nodes {
		v, err := toVec3(nb.Position)
		if err != nil {
			return nil, fmt.Errorf("part %s node %d: %w", part, i, err)
		}
		def.Nodes = append(def.Nodes, v)
	}
	for _, ib := range tb.Inlets {
		in := flow.Inlet{NodeIndex: ib.Node}
		if ib.Area != nil {
			in.CrossSectionArea = *ib.Area
		}
		def.Inlets = append(def.Inlets, in)
	}
	for _, cb := range tb.Contents {
		s, ok := l.Catalog.Get(cb.Substance)
		if !ok {
			return nil, fmt.Errorf("part %s: unknown substance %s", part, cb.Substance)
		}
		def.Contents.Add(substance.Of(s, cb.Mass), 1)
	}
	return def, nil
}

func (pb *pipeBlock) toPipeDef() (PipeDef, error) {
	pd := PipeDef{Name: pb.Name, Conductance: pb.Conductance}

	var err error
	if pd.From, err = decodeEndpoint(pb.From); err != nil {
		return pd, fmt.Errorf("pipe %s from: %w", pb.Name, err)
	}
	if pd.To, err = decodeEndpoint(pb.To); err != nil {
		return pd, fmt.Errorf("pipe %s to: %w", pb.Name, err)
	}

	content, diags := pb.Remain.Content(modifierSchema)
	if diags.HasErrors() {
		return pd, fmt.Errorf("pipe %s: %w", pb.Name, diags)
	}
	for _, blk := range content.Blocks {
		switch blk.Type {
		case "pump":
			var b pumpBlock
			if diags := gohcl.DecodeBody(blk.Body, EvalContext(), &b); diags.HasErrors() {
				return pd, fmt.Errorf("pipe %s pump: %w", pb.Name, diags)
			}
			pd.Modifiers = append(pd.Modifiers, flow.PumpModifier(b.HeadAdded))
		case "valve":
			var b valveBlock
			if diags := gohcl.DecodeBody(blk.Body, EvalContext(), &b); diags.HasErrors() {
				return pd, fmt.Errorf("pipe %s valve: %w", pb.Name, diags)
			}
			pd.Modifiers = append(pd.Modifiers, flow.ValveModifier(b.PercentOpen))
		}
	}
	return pd, nil
}

func decodeEndpoint(expr hcl.Expression) (PartInlet, error) {
	var ep PartInlet

	val, diags := expr.Value(EvalContext())
	if diags.HasErrors() {
		return ep, diags
	}
	if val.IsNull() || !val.Type().IsObjectType() {
		return ep, fmt.Errorf("expected an object like { part = \"name\", inlet = 0 }")
	}
	if !val.Type().HasAttribute("part") {
		return ep, fmt.Errorf("missing part")
	}
	if err := gocty.FromCtyValue(val.GetAttr("part"), &ep.Part); err != nil {
		return ep, fmt.Errorf("part: %w", err)
	}
	if val.Type().HasAttribute("inlet") {
		if err := gocty.FromCtyValue(val.GetAttr("inlet"), &ep.Inlet); err != nil {
			return ep, fmt.Errorf("inlet: %w", err)
		}
	}
	return ep, nil
}

func toVec3(v []float64) (mgl64.Vec3, error) {
	if len(v) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(v))
	}
	return mgl64.Vec3{v[0], v[1], v[2]}, nil
}

// findHCLFiles walks all given paths and returns a flat list of .hcl files.
func findHCLFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
