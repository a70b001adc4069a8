package topology

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/resourceflow/flowsim/internal/flow"
	"github.com/resourceflow/flowsim/internal/substance"
)

// Encode writes a vessel back out in the format Load reads. Substances that
// are not builtin are written as substance blocks. Loading the output yields
// a vessel that solves identically.
func Encode(v *Vessel) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	vb := body.AppendNewBlock("vessel", []string{v.ID}).Body()
	vb.SetAttributeValue("root", cty.StringVal(v.Root.Name))

	builtin := substance.Builtin()
	written := make(map[string]bool)
	v.Walk(func(p *Part) {
		if p.Tank == nil {
			return
		}
		for _, st := range p.Tank.Contents.States() {
			s := st.Substance
			if _, ok := builtin.Get(s.ID); ok || written[s.ID] {
				continue
			}
			written[s.ID] = true
			body.AppendNewline()
			encodeSubstance(body, s)
		}
	})

	v.Walk(func(p *Part) {
		body.AppendNewline()
		pb := body.AppendNewBlock("part", []string{p.Name}).Body()
		if len(p.Children) > 0 {
			names := make([]cty.Value, len(p.Children))
			for i, c := range p.Children {
				names[i] = cty.StringVal(c.Name)
			}
			pb.SetAttributeValue("children", cty.ListVal(names))
		}
		if p.Tank != nil {
			encodeTank(pb, p.Tank)
		}
	})

	for _, pd := range v.Pipes {
		body.AppendNewline()
		encodePipe(body, pd)
	}
	return f.Bytes()
}

func encodeSubstance(body *hclwrite.Body, s *substance.Substance) {
	sb := body.AppendNewBlock("substance", []string{s.ID}).Body()
	sb.SetAttributeValue("name", cty.StringVal(s.Name))
	if s.Color != "" {
		sb.SetAttributeValue("color", cty.StringVal(s.Color))
	}
	sb.SetAttributeValue("phase", cty.StringVal(s.Phase.String()))
	sb.SetAttributeValue("density", cty.NumberFloatVal(s.ReferenceDensity))
	sb.SetAttributeValue("reference_pressure", cty.NumberFloatVal(s.ReferencePressure))
	if s.BulkModulus != 0 {
		sb.SetAttributeValue("bulk_modulus", cty.NumberFloatVal(s.BulkModulus))
	}
	if s.MolarMass != 0 {
		sb.SetAttributeValue("molar_mass", cty.NumberFloatVal(s.MolarMass))
	}
}

func encodeTank(pb *hclwrite.Body, def *TankDef) {
	tb := pb.AppendNewBlock("tank", nil).Body()
	tb.SetAttributeValue("shape", cty.StringVal(def.Shape.String()))
	tb.SetAttributeValue("max_volume", cty.NumberFloatVal(def.MaxVolume))
	tb.SetAttributeValue("acceleration", vec3Value(def.Acceleration))
	for _, n := range def.Nodes {
		tb.AppendNewBlock("node", nil).Body().SetAttributeValue("position", vec3Value(n))
	}
	for _, in := range def.Inlets {
		ib := tb.AppendNewBlock("inlet", nil).Body()
		ib.SetAttributeValue("node", cty.NumberIntVal(int64(in.NodeIndex)))
		ib.SetAttributeValue("area", cty.NumberFloatVal(in.CrossSectionArea))
	}
	for _, st := range def.Contents.States() {
		cb := tb.AppendNewBlock("contents", nil).Body()
		cb.SetAttributeValue("substance", cty.StringVal(st.Substance.ID))
		cb.SetAttributeValue("mass", cty.NumberFloatVal(st.MassAmount))
	}
}

func encodePipe(body *hclwrite.Body, pd PipeDef) {
	pb := body.AppendNewBlock("pipe", []string{pd.Name}).Body()
	pb.SetAttributeValue("from", endpointValue(pd.From))
	pb.SetAttributeValue("to", endpointValue(pd.To))
	pb.SetAttributeValue("conductance", cty.NumberFloatVal(pd.Conductance))
	for _, m := range pd.Modifiers {
		switch m.Kind {
		case flow.Pump:
			pb.AppendNewBlock("pump", nil).Body().SetAttributeValue("head_added", cty.NumberFloatVal(m.HeadAdded))
		case flow.Valve:
			pb.AppendNewBlock("valve", nil).Body().SetAttributeValue("percent_open", cty.NumberFloatVal(m.PercentOpen))
		}
	}
}

func endpointValue(ep PartInlet) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"part":  cty.StringVal(ep.Part),
		"inlet": cty.NumberIntVal(int64(ep.Inlet)),
	})
}

func vec3Value(v mgl64.Vec3) cty.Value {
	return cty.TupleVal([]cty.Value{
		cty.NumberFloatVal(v[0]),
		cty.NumberFloatVal(v[1]),
		cty.NumberFloatVal(v[2]),
	})
}
