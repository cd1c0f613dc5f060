package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofgrid/datapath/ofp"
)

func TestHandleTableModSingleTableNotOffByOne(t *testing.T) {
	p, _, tables := newTestPipeline(3)

	err := p.HandleTableMod(&ofp.TableMod{
		Table:  1,
		Config: ofp.TableConfigVacancyEvents,
	})
	require.NoError(t, err)

	assert.Equal(t, ofp.TableConfigVacancyEvents, tables[1].Desc().Config)
	assert.Zero(t, tables[0].Desc().Config, "table 0 must be untouched")
	assert.Zero(t, tables[2].Desc().Config, "table 2 must be untouched")
}

func TestHandleTableModAllTablesAppliesToEveryTable(t *testing.T) {
	p, _, tables := newTestPipeline(3)

	err := p.HandleTableMod(&ofp.TableMod{
		Table:  ofp.TableAll,
		Config: ofp.TableConfigVacancyEvents,
	})
	require.NoError(t, err)

	for _, tbl := range tables {
		assert.Equal(t, ofp.TableConfigVacancyEvents, tbl.Desc().Config)
	}
}

func TestHandleTableModRejectsOutOfRangeTable(t *testing.T) {
	p, _, _ := newTestPipeline(2)

	err := p.HandleTableMod(&ofp.TableMod{Table: 9})
	require.Error(t, err)

	ofErr := err.(*ofp.Error)
	assert.Equal(t, ofp.ErrTypeTableModFailed, ofErr.Type)
	assert.Equal(t, ofp.ErrCodeTableModFailedBadTable, ofErr.Code)
}

func TestHandleTableModRejectsInvertedVacancyThresholds(t *testing.T) {
	p, _, _ := newTestPipeline(1)

	err := p.HandleTableMod(&ofp.TableMod{
		Table: 0,
		Properties: []ofp.TableDescProp{
			&ofp.TablePropVacancy{VacancyDown: 90, VacancyUp: 10},
		},
	})

	require.Error(t, err)
	ofErr := err.(*ofp.Error)
	assert.Equal(t, ofp.ErrTypeTableFeaturesFailed, ofErr.Type)
}

func TestHandleTableModVacancyReflectsLiveOccupancy(t *testing.T) {
	p, _, tables := newTestPipeline(1)

	tables[0].SetFeatures(ofp.TableFeatures{Table: 0, MaxEntries: 4})
	_, _, _, err := tables[0].FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 1, Match: ethMatch(1, 2)})
	require.NoError(t, err)

	err = p.HandleTableMod(&ofp.TableMod{
		Table: 0,
		Properties: []ofp.TableDescProp{
			&ofp.TablePropVacancy{VacancyDown: 10, VacancyUp: 90},
		},
	})
	require.NoError(t, err)

	desc := tables[0].Desc()
	require.Len(t, desc.Properties, 1)
	vacancy := desc.Properties[0].(*ofp.TablePropVacancy)
	assert.Equal(t, uint8(75), vacancy.Vacancy) // (4-1)*100/4
}

func TestTableFeaturesSaveRestoreRoundTrip(t *testing.T) {
	p, _, tables := newTestPipeline(1)

	tables[0].SetFeatures(ofp.TableFeatures{Table: 0, Config: 0x1})
	p.HandleTableFeaturesSave()

	tables[0].SetFeatures(ofp.TableFeatures{Table: 0, Config: 0x2})
	p.HandleTableFeaturesRestore()

	assert.Equal(t, ofp.TableConfig(0x1), tables[0].Features().Config)
}
