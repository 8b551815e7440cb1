package archive

import (
	"fmt"

	"github.com/mdkit/trajio/container"
	"github.com/mdkit/trajio/errs"
)

// Topology tables live under the "topology" group: one subgroup per
// molecule type holding its per-atom tables and bond list, plus a
// molecule_blocks table mapping each type to its copy count. They are fixed
// properties, written once when the system is set up.

const (
	moleculeTypesGroup  = topologyGroup + "/molecule_types"
	moleculeBlocksGroup = topologyGroup + "/molecule_blocks"

	atomNameProperty    = "atom_name"
	atomSpeciesProperty = "atom_species"
	residueNameProperty = "residue_name"
	bondsProperty       = "connectivity"
	blockTypesProperty  = "molecule_type"
	blockCountsProperty = "number_of_molecules"
)

// MoleculeType describes one kind of molecule: parallel per-atom tables and
// the bonded atom pairs, indices local to the molecule.
type MoleculeType struct {
	Name         string
	AtomNames    []string
	AtomSpecies  []string
	ResidueNames []string
	Bonds        [][2]int64
}

// WriteMoleculeType records a molecule type's tables. Re-recording an
// existing type is a no-op, matching fixed-property semantics.
func (a *Archive) WriteMoleculeType(mt MoleculeType) error {
	if mt.Name == "" {
		return fmt.Errorf("molecule type needs a name: %w", errs.ErrInvalidMeta)
	}
	if len(mt.AtomSpecies) != len(mt.AtomNames) || len(mt.ResidueNames) != len(mt.AtomNames) {
		return fmt.Errorf("molecule type %s: per-atom tables have mismatched lengths: %w",
			mt.Name, errs.ErrShapeMismatch)
	}

	group := container.JoinPath(moleculeTypesGroup, mt.Name)
	if err := SetStringProperty(a, group, atomNameProperty, mt.AtomNames, false); err != nil {
		return err
	}
	if err := SetStringProperty(a, group, atomSpeciesProperty, mt.AtomSpecies, false); err != nil {
		return err
	}
	if err := SetStringProperty(a, group, residueNameProperty, mt.ResidueNames, false); err != nil {
		return err
	}

	return SetNumericProperty(a, group, bondsProperty, mt.Bonds, false)
}

// ReadMoleculeType reads back the tables of one molecule type. An unknown
// name yields a MoleculeType with empty tables.
func (a *Archive) ReadMoleculeType(name string) (MoleculeType, error) {
	group := container.JoinPath(moleculeTypesGroup, name)
	mt := MoleculeType{Name: name}

	var err error
	if mt.AtomNames, err = ReadStringProperty(a, group, atomNameProperty); err != nil {
		return mt, err
	}
	if mt.AtomSpecies, err = ReadStringProperty(a, group, atomSpeciesProperty); err != nil {
		return mt, err
	}
	if mt.ResidueNames, err = ReadStringProperty(a, group, residueNameProperty); err != nil {
		return mt, err
	}
	mt.Bonds, err = ReadNumericProperty[[2]int64](a, group, bondsProperty)

	return mt, err
}

// WriteMoleculeBlocks records the ordered composition of the system: for
// each block, a molecule type name and how many copies of it follow in the
// global atom numbering.
func (a *Archive) WriteMoleculeBlocks(typeNames []string, counts []int64) error {
	if len(typeNames) != len(counts) {
		return fmt.Errorf("molecule blocks: %d types but %d counts: %w",
			len(typeNames), len(counts), errs.ErrShapeMismatch)
	}
	if err := SetStringProperty(a, moleculeBlocksGroup, blockTypesProperty, typeNames, false); err != nil {
		return err
	}

	return SetNumericProperty(a, moleculeBlocksGroup, blockCountsProperty, counts, false)
}

// ReadMoleculeBlocks reads back the system composition. An archive without
// topology yields two empty slices.
func (a *Archive) ReadMoleculeBlocks() ([]string, []int64, error) {
	typeNames, err := ReadStringProperty(a, moleculeBlocksGroup, blockTypesProperty)
	if err != nil {
		return nil, nil, err
	}
	counts, err := ReadNumericProperty[int64](a, moleculeBlocksGroup, blockCountsProperty)
	if err != nil {
		return nil, nil, err
	}
	if len(typeNames) != len(counts) {
		return nil, nil, fmt.Errorf("molecule blocks: %d types but %d counts: %w",
			len(typeNames), len(counts), errs.ErrInvalidMeta)
	}

	return typeNames, counts, nil
}
