package voxel

// Material describes what occupies a cell. Values are immutable; a Material read
// from the world may be stale once the cell is changed.
type Material struct {
	Name string
	// Air marks an empty cell.
	Air bool
	// Resistance is the explosion force absorbed when a ray passes the cell.
	Resistance float32
	// Fluid marks water, lava and similar liquids.
	Fluid bool
	// Solid marks a full solid top face that fire can rest on.
	Solid bool
	// Replaceable marks terrain that is overwritten rather than destroyed.
	Replaceable bool
	// Drop is the item produced when the cell is destroyed; empty means nothing.
	Drop      string
	DropCount int
	// MaxStack caps how many Drop items merge into one stack; 0 means unstackable.
	MaxStack int
}

func (m Material) String() string { return m.Name }

// Drops returns what destroying a cell of this material yields.
func (m Material) Drops() []Drop {
	if m.Drop == "" || m.DropCount <= 0 {
		return nil
	}
	return []Drop{{Item: m.Drop, Count: m.DropCount, MaxStack: m.MaxStack}}
}

// Drop is an item stack spawned into the world.
type Drop struct {
	Item     string
	Count    int
	MaxStack int
}

// Mergeable reports whether o can be folded into d.
func (d Drop) Mergeable(o Drop) bool {
	return d.Item == o.Item && d.MaxStack > 1 && d.Count+o.Count <= d.MaxStack
}

var (
	Air = Material{Name: "air", Air: true, Replaceable: true}

	Stone    = Material{Name: "stone", Resistance: 6, Solid: true, Drop: "cobblestone", DropCount: 1, MaxStack: 64}
	Dirt     = Material{Name: "dirt", Resistance: 0.5, Solid: true, Drop: "dirt", DropCount: 1, MaxStack: 64}
	Grass    = Material{Name: "grass_block", Resistance: 0.6, Solid: true, Drop: "dirt", DropCount: 1, MaxStack: 64}
	Sand     = Material{Name: "sand", Resistance: 0.5, Solid: true, Drop: "sand", DropCount: 1, MaxStack: 64}
	Planks   = Material{Name: "planks", Resistance: 3, Solid: true, Drop: "planks", DropCount: 1, MaxStack: 64}
	Glass    = Material{Name: "glass", Resistance: 0.3}
	Chest    = Material{Name: "chest", Resistance: 2.5, Drop: "chest", DropCount: 1, MaxStack: 64}
	TNT      = Material{Name: "tnt", Resistance: 0, Solid: true, Drop: "tnt", DropCount: 1, MaxStack: 64}
	Obsidian = Material{Name: "obsidian", Resistance: 1200, Solid: true, Drop: "obsidian", DropCount: 1, MaxStack: 64}
	Bedrock  = Material{Name: "bedrock", Resistance: 3600000, Solid: true}

	Water = Material{Name: "water", Resistance: 100, Fluid: true, Replaceable: true}
	Lava  = Material{Name: "lava", Resistance: 100, Fluid: true, Replaceable: true}
	Fire  = Material{Name: "fire", Replaceable: true}
	Tall  = Material{Name: "tall_grass"}
)

// Materials lists the built-in palette by name.
var Materials = map[string]Material{}

func init() {
	for _, m := range []Material{Air, Stone, Dirt, Grass, Sand, Planks, Glass, Chest, TNT, Obsidian, Bedrock, Water, Lava, Fire, Tall} {
		Materials[m.Name] = m
	}
}
