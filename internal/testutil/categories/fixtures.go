package categories

// Node is one parent with its children.
type Node struct {
	Parent   CategoryName
	Children []CategoryName
}

// Fixture represents a predefined category tree for testing.
type Fixture interface {
	// Name returns the fixture's descriptive name.
	Name() string

	// Tree returns the parents and their children.
	Tree() []Node
}

type fixture struct {
	name string
	tree []Node
}

func (f *fixture) Name() string { return f.name }
func (f *fixture) Tree() []Node { return f.tree }

// Predefined fixtures for common test scenarios.
var (
	// FixtureFlat has parents only, so the AI vocabulary falls back to all of them.
	FixtureFlat = &fixture{
		name: "Flat",
		tree: []Node{
			{Parent: CategoryFood},
			{Parent: CategoryShopping},
			{Parent: CategoryBills},
		},
	}

	// FixtureStandard covers the everyday spending tree used by most tests.
	FixtureStandard = &fixture{
		name: "Standard",
		tree: []Node{
			{Parent: CategoryFood, Children: []CategoryName{CategoryGroceries, CategoryDining, CategoryCoffee}},
			{Parent: CategoryShopping, Children: []CategoryName{CategoryOnline, CategoryElectronics}},
			{Parent: CategoryBills, Children: []CategoryName{CategorySubscriptions, CategoryUtilities, CategoryCloudStorage}},
			{Parent: CategoryIncome, Children: []CategoryName{CategoryPaycheck}},
		},
	}
)

// AllFixtures returns all available fixtures.
func AllFixtures() []Fixture {
	return []Fixture{FixtureFlat, FixtureStandard}
}
