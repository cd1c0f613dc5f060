package pipeline

import (
	"strconv"

	"github.com/ofgrid/datapath/internal/metrics"
	"github.com/ofgrid/datapath/ofp"
)

// HandleTableMod applies msg to the targeted table(s) (spec.md section
// 4.4). The source's single-table range is off-by-one (tiStart ==
// tiStop leaves the loop body unreached); this implementation uses
// tiStop = tableID + 1 for the single-table case, per the fix spec.md
// section 9 Open Questions recommends.
func (p *Pipeline) HandleTableMod(msg *ofp.TableMod) error {
	tiStart, tiStop := 0, len(p.tables)

	if msg.Table != ofp.TableAll {
		tiStart = int(msg.Table)
		tiStop = tiStart + 1

		if tiStart >= len(p.tables) {
			return &ofp.Error{
				Type: ofp.ErrTypeTableModFailed,
				Code: ofp.ErrCodeTableModFailedBadTable,
			}
		}
	}

	for _, t := range p.tables[tiStart:tiStop] {
		if err := applyTableMod(t, msg); err != nil {
			return err
		}
	}

	return nil
}

// applyTableMod applies the vacancy-property and config overwrite
// steps of spec.md section 4.4 to a single table.
func applyTableMod(t Table, msg *ofp.TableMod) error {
	desc := t.Desc()

	for _, prop := range msg.Properties {
		vacancy, ok := prop.(*ofp.TablePropVacancy)
		if !ok {
			continue
		}

		if vacancy.VacancyDown > vacancy.VacancyUp {
			return &ofp.Error{
				Type: ofp.ErrTypeTableFeaturesFailed,
				Code: ofp.ErrCodeTableFeaturesFailedBadArgument,
			}
		}

		slot := findOrAppendVacancy(&desc)
		slot.VacancyDown = vacancy.VacancyDown
		slot.VacancyUp = vacancy.VacancyUp
		slot.Vacancy = currentVacancy(t)
		slot.DownSet = slot.Vacancy >= slot.VacancyUp
	}

	desc.Config = msg.Config
	t.SetDesc(desc)

	return nil
}

// findOrAppendVacancy returns the TablePropVacancy slot of desc,
// appending one if none exists yet.
func findOrAppendVacancy(desc *ofp.TableDesc) *ofp.TablePropVacancy {
	for _, prop := range desc.Properties {
		if v, ok := prop.(*ofp.TablePropVacancy); ok {
			return v
		}
	}

	v := &ofp.TablePropVacancy{}
	desc.Properties = append(desc.Properties, v)
	return v
}

// currentVacancy recomputes the live free-entry percentage of t:
// (MaxEntries - ActiveCount) * 100 / MaxEntries (spec.md section 4.4).
func currentVacancy(t Table) uint8 {
	maxEntries := t.Features().MaxEntries
	if maxEntries == 0 {
		return 0
	}

	free := uint64(maxEntries) - uint64(t.ActiveCount())
	return uint8(free * 100 / uint64(maxEntries))
}

// recomputeVacancy refreshes v.Vacancy from t's live occupancy and fires
// a vacancy event on a hysteresis edge crossing: a vacancy-down event
// only while v was DownSet (vacancy last seen at or above VacancyUp), a
// vacancy-up event only while it was not, mirroring down_set in the
// reference switch (pipeline.c's pipeline_handle_table_mod). The
// reference source kept in this tree stops at computing that initial
// armed state; the crossing check and event emission below extend it
// to the asynchronous notification the property's own fields describe.
func recomputeVacancy(t Table, v *ofp.TablePropVacancy) {
	vacancy := currentVacancy(t)
	v.Vacancy = vacancy

	label := strconv.Itoa(int(t.ID()))
	switch {
	case v.DownSet && vacancy <= v.VacancyDown:
		v.DownSet = false
		metrics.RecordVacancyEvent(label, "down")
	case !v.DownSet && vacancy >= v.VacancyUp:
		v.DownSet = true
		metrics.RecordVacancyEvent(label, "up")
	}
}

// HandleTableFeaturesSave copies every table's live feature config
// into its saved checkpoint (spec.md section 4.5), bracketing a
// multi-message features update so failure can be rolled back.
func (p *Pipeline) HandleTableFeaturesSave() {
	for _, t := range p.tables {
		features := t.Features()
		saved := t.SavedFeatures()
		saved.Config = features.Config
		t.SetSavedFeatures(saved)
	}
}

// HandleTableFeaturesRestore copies every table's saved feature config
// back onto its live descriptor (spec.md section 4.5).
func (p *Pipeline) HandleTableFeaturesRestore() {
	for _, t := range p.tables {
		saved := t.SavedFeatures()
		features := t.Features()
		features.Config = saved.Config
		t.SetFeatures(features)
	}
}
