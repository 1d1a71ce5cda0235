package attribute

// Resolution is the pixel grid of an image attribute.
type Resolution struct {
	Width  int
	Height int
}

// Pixels returns Width*Height.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Descriptor is the immutable per-kind metadata held by a Catalog.
type Descriptor struct {
	Attribute  Attribute
	Name       string
	Payload    PayloadKind
	Elements   int
	Resolution Resolution
	Default    []float64
}

// Catalog is the read-only registry of attribute descriptors. Build one with
// NewCatalog and share it by reference; it is safe for concurrent use.
type Catalog struct {
	byKind [attributeCount]Descriptor
	byName map[string]Attribute
}

// NewCatalog builds the catalog for every enumerated attribute.
func NewCatalog() *Catalog {
	c := &Catalog{byName: make(map[string]Attribute, attributeCount)}
	for _, a := range All() {
		d := describe(a)
		c.byKind[a] = d
		c.byName[d.Name] = a
	}
	return c
}

func describe(a Attribute) Descriptor {
	d := Descriptor{Attribute: a, Name: canonicalNames[a], Payload: PayloadDouble}
	switch a {
	case Position, JointPosition:
		d.Elements = 3
		d.Default = []float64{0, 0, 0}
	case Quaternion, JointQuaternion:
		d.Elements = 4
		d.Default = []float64{1, 0, 0, 0}
	case RGB_128_128, RGB_640_480, RGB_1280_1024, RGB_3840_2160:
		d.Payload = PayloadByte
		d.Resolution = imageResolution(a)
		d.Elements = d.Resolution.Pixels() * 3
	case Depth_128_128, Depth_640_480, Depth_1280_1024, Depth_3840_2160:
		d.Payload = PayloadUInt16
		d.Resolution = imageResolution(a)
		d.Elements = d.Resolution.Pixels()
	default:
		d.Elements = 1
		d.Default = []float64{0}
	}
	return d
}

func imageResolution(a Attribute) Resolution {
	switch a {
	case RGB_128_128, Depth_128_128:
		return Resolution{Width: 128, Height: 128}
	case RGB_640_480, Depth_640_480:
		return Resolution{Width: 640, Height: 480}
	case RGB_1280_1024, Depth_1280_1024:
		return Resolution{Width: 1280, Height: 1024}
	case RGB_3840_2160, Depth_3840_2160:
		return Resolution{Width: 3840, Height: 2160}
	default:
		return Resolution{}
	}
}

// Describe returns the descriptor for a, or false for values outside the
// enumeration.
func (c *Catalog) Describe(a Attribute) (Descriptor, bool) {
	if !a.Valid() {
		return Descriptor{}, false
	}
	d := c.byKind[a]
	d.Default = append([]float64(nil), d.Default...)
	return d, true
}

// ElementCount returns the fixed number of elements of a, 0 when unknown.
func (c *Catalog) ElementCount(a Attribute) int {
	if !a.Valid() {
		return 0
	}
	return c.byKind[a].Elements
}

// PayloadKind returns the buffer region a is packed into.
func (c *Catalog) PayloadKind(a Attribute) PayloadKind {
	if !a.Valid() {
		return PayloadDouble
	}
	return c.byKind[a].Payload
}

// CanonicalName returns the wire name of a, "" when unknown.
func (c *Catalog) CanonicalName(a Attribute) string {
	if !a.Valid() {
		return ""
	}
	return c.byKind[a].Name
}

// FromCanonicalName resolves a wire name. Unknown names return false and
// must be skipped by the caller.
func (c *Catalog) FromCanonicalName(name string) (Attribute, bool) {
	a, ok := c.byName[name]
	return a, ok
}

// Default returns a fresh copy of the neutral value for a double attribute.
// Image kinds have no double default and return nil.
func (c *Catalog) Default(a Attribute) []float64 {
	if !a.Valid() {
		return nil
	}
	return append([]float64(nil), c.byKind[a].Default...)
}

// Resolution returns the pixel grid of an image attribute.
func (c *Catalog) Resolution(a Attribute) (Resolution, bool) {
	if !c.IsImage(a) {
		return Resolution{}, false
	}
	return c.byKind[a].Resolution, true
}

// IsImage reports whether a is a byte or uint16 image kind.
func (c *Catalog) IsImage(a Attribute) bool {
	return a.Valid() && c.byKind[a].Payload != PayloadDouble
}

// Writable reports whether values of a can be written back into the host.
// Image kinds are send-only.
func (c *Catalog) Writable(a Attribute) bool {
	return a.Valid() && !c.IsImage(a)
}
