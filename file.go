package magnon

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jkrueger1/magnon/cmat"
	"github.com/pkg/errors"
)

// fileSignature identifies a model file.
const fileSignature = "magdyn_tool"

type xmlMeta struct {
	Info string `xml:"info"`
	Date string `xml:"date,omitempty"`
}

type xmlVariable struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

type xmlVariables struct {
	Items []xmlVariable `xml:"variable"`
}

type xmlSite struct {
	Name       string `xml:"name"`
	PositionX  string `xml:"position_x"`
	PositionY  string `xml:"position_y"`
	PositionZ  string `xml:"position_z"`
	SymIdx     int    `xml:"symmetry_index"`
	SpinX      string `xml:"spin_x"`
	SpinY      string `xml:"spin_y"`
	SpinZ      string `xml:"spin_z"`
	SpinOrthoX string `xml:"spin_ortho_x"`
	SpinOrthoY string `xml:"spin_ortho_y"`
	SpinOrthoZ string `xml:"spin_ortho_z"`
	SpinMag    string `xml:"spin_magnitude"`
}

type xmlTerm struct {
	Name      string `xml:"name"`
	Site1Idx  int    `xml:"atom_1_index"`
	Site2Idx  int    `xml:"atom_2_index"`
	Site1Name string `xml:"atom_1_name"`
	Site2Name string `xml:"atom_2_name"`
	DistX     string `xml:"distance_x"`
	DistY     string `xml:"distance_y"`
	DistZ     string `xml:"distance_z"`
	SymIdx    int    `xml:"symmetry_index"`
	J         string `xml:"interaction"`
	DMIX      string `xml:"dmi_x"`
	DMIY      string `xml:"dmi_y"`
	DMIZ      string `xml:"dmi_z"`
	GenXX     string `xml:"gen_xx"`
	GenXY     string `xml:"gen_xy"`
	GenXZ     string `xml:"gen_xz"`
	GenYX     string `xml:"gen_yx"`
	GenYY     string `xml:"gen_yy"`
	GenYZ     string `xml:"gen_yz"`
	GenZX     string `xml:"gen_zx"`
	GenZY     string `xml:"gen_zy"`
	GenZZ     string `xml:"gen_zz"`
}

type xmlSites struct {
	Items []xmlSiteRaw `xml:"site"`
}

// xmlSiteRaw captures the g tensor elements next to the fixed fields.
type xmlSiteRaw struct {
	xmlSite
	GXX *string `xml:"gfactor_xx"`
	GXY *string `xml:"gfactor_xy"`
	GXZ *string `xml:"gfactor_xz"`
	GYX *string `xml:"gfactor_yx"`
	GYY *string `xml:"gfactor_yy"`
	GYZ *string `xml:"gfactor_yz"`
	GZX *string `xml:"gfactor_zx"`
	GZY *string `xml:"gfactor_zy"`
	GZZ *string `xml:"gfactor_zz"`
}

func (s *xmlSiteRaw) gfactor() [9]*string {
	return [9]*string{s.GXX, s.GXY, s.GXZ, s.GYX, s.GYY, s.GYZ, s.GZX, s.GZY, s.GZZ}
}

type xmlTerms struct {
	Items []xmlTerm `xml:"term"`
}

type xmlField struct {
	DirH       *float64 `xml:"direction_h"`
	DirK       *float64 `xml:"direction_k"`
	DirL       *float64 `xml:"direction_l"`
	Magnitude  *float64 `xml:"magnitude"`
	AlignSpins *bool    `xml:"align_spins"`
}

type xmlHKL struct {
	H *float64 `xml:"h"`
	K *float64 `xml:"k"`
	L *float64 `xml:"l"`
}

type xmlXtal struct {
	A       *float64 `xml:"a"`
	B       *float64 `xml:"b"`
	C       *float64 `xml:"c"`
	Alpha   *float64 `xml:"alpha"`
	Beta    *float64 `xml:"beta"`
	Gamma   *float64 `xml:"gamma"`
	PlaneAH *float64 `xml:"plane_ah"`
	PlaneAK *float64 `xml:"plane_ak"`
	PlaneAL *float64 `xml:"plane_al"`
	PlaneBH *float64 `xml:"plane_bh"`
	PlaneBK *float64 `xml:"plane_bk"`
	PlaneBL *float64 `xml:"plane_bl"`
	PlaneCH *float64 `xml:"plane_ch,omitempty"`
	PlaneCK *float64 `xml:"plane_ck,omitempty"`
	PlaneCL *float64 `xml:"plane_cl,omitempty"`
}

type xmlModel struct {
	XMLName     xml.Name      `xml:"magdyn"`
	Meta        xmlMeta       `xml:"meta"`
	Variables   *xmlVariables `xml:"variables"`
	Sites       *xmlSites     `xml:"atom_sites"`
	Terms       *xmlTerms     `xml:"exchange_terms"`
	Field       *xmlField     `xml:"field"`
	Temperature *float64      `xml:"temperature"`
	FormFactor  *string       `xml:"magnetic_form_factor"`
	Ordering    *xmlHKL       `xml:"ordering"`
	RotAxis     *xmlHKL       `xml:"rotation_axis"`
	Xtal        *xmlXtal      `xml:"xtal"`
}

// parseCplx parses a complex value in either the bracketed "(re,im)"
// notation or the Go "re+imi" notation.
func parseCplx(s string) (complex128, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") && strings.Contains(s, ",") {
		parts := strings.SplitN(strings.TrimSuffix(strings.TrimPrefix(s, "("), ")"), ",", 2)
		re, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid complex value %q", s)
		}
		im, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid complex value %q", s)
		}
		return complex(re, im), nil
	}
	v, err := strconv.ParseComplex(s, 128)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid complex value %q", s)
	}
	return v, nil
}

// formatCplx writes a complex value in the bracketed notation.
func formatCplx(v complex128, prec int) string {
	return fmt.Sprintf("(%s,%s)",
		strconv.FormatFloat(real(v), 'g', prec, 64),
		strconv.FormatFloat(imag(v), 'g', prec, 64))
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Load reads a model from its XML representation, replacing the current
// content of m, and recalculates all sites and couplings. On any error
// m is left untouched.
func (m *Model) Load(r io.Reader) error {
	var x xmlModel
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&x); err != nil {
		return errors.Wrap(err, "cannot parse model file")
	}
	if x.Meta.Info != fileSignature {
		return errors.Errorf("not a model file, signature is %q", x.Meta.Info)
	}

	loaded := New()
	loaded.log = m.log
	if err := loaded.fromXML(&x); err != nil {
		return err
	}
	*m = *loaded
	return nil
}

func (m *Model) fromXML(x *xmlModel) error {
	if x.Variables != nil {
		for _, v := range x.Variables.Items {
			if v.Name == "" {
				continue
			}
			val := complex128(0)
			if v.Value != "" {
				var err error
				if val, err = parseCplx(v.Value); err != nil {
					return errors.Wrapf(err, "variable %q", v.Name)
				}
			}
			m.SetVariable(Variable{Name: v.Name, Value: val})
		}
	}

	if x.Sites != nil {
		seen := make(map[string]bool)
		uniqueCtr := 1
		for _, s := range x.Sites.Items {
			site := MagneticSite{
				Name:    s.Name,
				SymIdx:  s.SymIdx,
				SpinMag: s.SpinMag,
			}
			if site.Name == "" {
				site.Name = "site_" + strconv.Itoa(len(m.sites))
			}
			if seen[site.Name] {
				site.Name += "_" + strconv.Itoa(uniqueCtr)
				uniqueCtr++
			} else {
				seen[site.Name] = true
			}

			site.Pos = [3]string{s.PositionX, s.PositionY, s.PositionZ}
			site.SpinDir = [3]string{s.SpinX, s.SpinY, s.SpinZ}
			site.SpinOrtho = [3]string{s.SpinOrthoX, s.SpinOrthoY, s.SpinOrthoZ}
			for i := range site.Pos {
				if site.Pos[i] == "" {
					site.Pos[i] = "0"
				}
			}
			for i, def := range [3]string{"0", "0", "1"} {
				if site.SpinDir[i] == "" {
					site.SpinDir[i] = def
				}
			}
			if site.SpinMag == "" {
				site.SpinMag = "1"
			}

			site.G = cmat.Identity3().Complex().Scale(complex(gE, 0))
			for i, comp := range s.gfactor() {
				if comp == nil {
					continue
				}
				v, err := parseCplx(*comp)
				if err != nil {
					return errors.Wrapf(err, "g factor of site %q", site.Name)
				}
				site.G[i/3][i%3] = v
			}

			m.AddMagneticSite(site)
		}
	}

	if x.Terms != nil {
		seen := make(map[string]bool)
		uniqueCtr := 1
		for _, t := range x.Terms.Items {
			term := ExchangeTerm{
				Name:   t.Name,
				SymIdx: t.SymIdx,
				J:      t.J,
			}
			if term.Name == "" {
				term.Name = "coupling_" + strconv.Itoa(len(m.terms))
			}
			if seen[term.Name] {
				term.Name += "_" + strconv.Itoa(uniqueCtr)
				uniqueCtr++
			} else {
				seen[term.Name] = true
			}

			// The site references are stored both by name and by
			// index; the name wins when it resolves.
			term.Site1 = m.siteRef(t.Site1Name, t.Site1Idx)
			term.Site2 = m.siteRef(t.Site2Name, t.Site2Idx)

			term.Dist = [3]string{t.DistX, t.DistY, t.DistZ}
			term.DMI = [3]string{t.DMIX, t.DMIY, t.DMIZ}
			term.JGen = [3][3]string{
				{t.GenXX, t.GenXY, t.GenXZ},
				{t.GenYX, t.GenYY, t.GenYZ},
				{t.GenZX, t.GenZY, t.GenZZ},
			}
			for i := range term.Dist {
				if term.Dist[i] == "" {
					term.Dist[i] = "0"
				}
				if term.DMI[i] == "" {
					term.DMI[i] = "0"
				}
			}
			if term.J == "" {
				term.J = "0"
			}

			m.AddExchangeTerm(term)
		}
	}

	if x.Field != nil {
		m.field = ExternalField{
			Dir: cmat.Vec3{
				orDefault(x.Field.DirH, 0),
				orDefault(x.Field.DirK, 0),
				orDefault(x.Field.DirL, 1),
			},
			Mag: orDefault(x.Field.Magnitude, 0),
		}
		if x.Field.AlignSpins != nil {
			m.field.AlignSpins = *x.Field.AlignSpins
		}
	}

	if x.Temperature != nil {
		m.temperature = *x.Temperature
	}
	if x.FormFactor != nil {
		if err := m.SetMagneticFormFactor(*x.FormFactor); err != nil {
			return err
		}
	}
	if x.Ordering != nil {
		m.ordering = cmat.Vec3{
			orDefault(x.Ordering.H, 0),
			orDefault(x.Ordering.K, 0),
			orDefault(x.Ordering.L, 0),
		}
	}
	if x.RotAxis != nil {
		m.rotAxis = cmat.Vec3{
			orDefault(x.RotAxis.H, 1),
			orDefault(x.RotAxis.K, 0),
			orDefault(x.RotAxis.L, 0),
		}
	}

	a, b, c := 5.0, 5.0, 5.0
	alpha, beta, gamma := 90.0, 90.0, 90.0
	planeA := cmat.Vec3{1, 0, 0}
	planeB := cmat.Vec3{0, 1, 0}
	if x.Xtal != nil {
		a, b, c = orDefault(x.Xtal.A, a), orDefault(x.Xtal.B, b), orDefault(x.Xtal.C, c)
		alpha = orDefault(x.Xtal.Alpha, alpha)
		beta = orDefault(x.Xtal.Beta, beta)
		gamma = orDefault(x.Xtal.Gamma, gamma)
		planeA = cmat.Vec3{
			orDefault(x.Xtal.PlaneAH, 1),
			orDefault(x.Xtal.PlaneAK, 0),
			orDefault(x.Xtal.PlaneAL, 0),
		}
		planeB = cmat.Vec3{
			orDefault(x.Xtal.PlaneBH, 0),
			orDefault(x.Xtal.PlaneBK, 1),
			orDefault(x.Xtal.PlaneBL, 0),
		}
	}
	deg := math.Pi / 180
	if err := m.SetCrystalLattice(a, b, c, alpha*deg, beta*deg, gamma*deg); err != nil {
		return err
	}
	m.SetScatteringPlane(planeA[0], planeA[1], planeA[2], planeB[0], planeB[1], planeB[2])

	m.CalcAll()
	return nil
}

// siteRef resolves a coupling site reference from its stored name and
// index; the index is the fallback when the name does not resolve.
func (m *Model) siteRef(name string, idx int) string {
	if name != "" {
		if m.FindMagneticSite(name) != nil {
			return name
		}
		m.log.Warn("site name not found, falling back to index",
			"name", name, "index", idx)
	}
	if idx >= 0 && idx < len(m.sites) {
		return m.sites[idx].Name
	}
	return name
}

// LoadFile loads a model from the given XML file.
func (m *Model) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open %q", path)
	}
	defer f.Close()
	return errors.Wrapf(m.Load(f), "cannot load %q", path)
}

// Save writes the model as XML.
func (m *Model) Save(w io.Writer) error {
	ff := func(v float64) *float64 { return &v }

	x := xmlModel{
		Meta: xmlMeta{
			Info: fileSignature,
			Date: time.Now().Format(time.RFC3339),
		},
		Field: &xmlField{
			DirH:       ff(m.field.Dir[0]),
			DirK:       ff(m.field.Dir[1]),
			DirL:       ff(m.field.Dir[2]),
			Magnitude:  ff(m.field.Mag),
			AlignSpins: &m.field.AlignSpins,
		},
		Temperature: ff(m.temperature),
		Ordering:    &xmlHKL{H: ff(m.ordering[0]), K: ff(m.ordering[1]), L: ff(m.ordering[2])},
		RotAxis:     &xmlHKL{H: ff(m.rotAxis[0]), K: ff(m.rotAxis[1]), L: ff(m.rotAxis[2])},
		Xtal: &xmlXtal{
			A:       ff(m.xtal[0]),
			B:       ff(m.xtal[1]),
			C:       ff(m.xtal[2]),
			Alpha:   ff(m.xtal[3] / math.Pi * 180),
			Beta:    ff(m.xtal[4] / math.Pi * 180),
			Gamma:   ff(m.xtal[5] / math.Pi * 180),
			PlaneAH: ff(m.scatteringPlane[0][0]),
			PlaneAK: ff(m.scatteringPlane[0][1]),
			PlaneAL: ff(m.scatteringPlane[0][2]),
			PlaneBH: ff(m.scatteringPlane[1][0]),
			PlaneBK: ff(m.scatteringPlane[1][1]),
			PlaneBL: ff(m.scatteringPlane[1][2]),
			PlaneCH: ff(m.scatteringPlane[2][0]),
			PlaneCK: ff(m.scatteringPlane[2][1]),
			PlaneCL: ff(m.scatteringPlane[2][2]),
		},
	}
	formFactor := m.magFFactSrc
	x.FormFactor = &formFactor

	if len(m.variables) > 0 {
		x.Variables = &xmlVariables{}
		for _, v := range m.variables {
			x.Variables.Items = append(x.Variables.Items, xmlVariable{
				Name:  v.Name,
				Value: formatCplx(v.Value, m.prec),
			})
		}
	}

	if len(m.sites) > 0 {
		x.Sites = &xmlSites{}
		for i := range m.sites {
			site := &m.sites[i]
			raw := xmlSiteRaw{
				xmlSite: xmlSite{
					Name:       site.Name,
					PositionX:  site.Pos[0],
					PositionY:  site.Pos[1],
					PositionZ:  site.Pos[2],
					SymIdx:     site.SymIdx,
					SpinX:      site.SpinDir[0],
					SpinY:      site.SpinDir[1],
					SpinZ:      site.SpinDir[2],
					SpinOrthoX: site.SpinOrtho[0],
					SpinOrthoY: site.SpinOrtho[1],
					SpinOrthoZ: site.SpinOrtho[2],
					SpinMag:    site.SpinMag,
				},
			}
			gs := make([]string, 9)
			ptrs := []**string{
				&raw.GXX, &raw.GXY, &raw.GXZ,
				&raw.GYX, &raw.GYY, &raw.GYZ,
				&raw.GZX, &raw.GZY, &raw.GZZ,
			}
			for k := 0; k < 9; k++ {
				gs[k] = formatCplx(site.G[k/3][k%3], m.prec)
				*ptrs[k] = &gs[k]
			}
			x.Sites.Items = append(x.Sites.Items, raw)
		}
	}

	if len(m.terms) > 0 {
		x.Terms = &xmlTerms{}
		for i := range m.terms {
			term := &m.terms[i]
			x.Terms.Items = append(x.Terms.Items, xmlTerm{
				Name:      term.Name,
				Site1Idx:  term.Site1Calc,
				Site2Idx:  term.Site2Calc,
				Site1Name: term.Site1,
				Site2Name: term.Site2,
				DistX:     term.Dist[0],
				DistY:     term.Dist[1],
				DistZ:     term.Dist[2],
				SymIdx:    term.SymIdx,
				J:         term.J,
				DMIX:      term.DMI[0],
				DMIY:      term.DMI[1],
				DMIZ:      term.DMI[2],
				GenXX:     term.JGen[0][0],
				GenXY:     term.JGen[0][1],
				GenXZ:     term.JGen[0][2],
				GenYX:     term.JGen[1][0],
				GenYY:     term.JGen[1][1],
				GenYZ:     term.JGen[1][2],
				GenZX:     term.JGen[2][0],
				GenZY:     term.JGen[2][1],
				GenZZ:     term.JGen[2][2],
			})
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return errors.Wrap(err, "write model")
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "\t")
	if err := enc.Encode(&x); err != nil {
		return errors.Wrap(err, "write model")
	}
	if err := enc.Flush(); err != nil {
		return errors.Wrap(err, "write model")
	}
	_, err := io.WriteString(w, "\n")
	return errors.Wrap(err, "write model")
}

// SaveFile writes the model to the given path. The file is staged under a
// temporary name and moved into place, so a crash cannot leave a
// truncated model behind.
func (m *Model) SaveFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "cannot stage %q", path)
	}
	defer os.Remove(tmp.Name())

	if err := m.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "cannot write %q", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "cannot commit %q", path)
}
