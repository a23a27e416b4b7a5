package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"Pending", StatusPending},
		{"pending", StatusPending},
		{"Pendiente", StatusPending},
		{"InProgress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"in progress", StatusInProgress},
		{"En Progreso", StatusInProgress},
		{"Completed", StatusCompleted},
		{"done", StatusCompleted},
		{"Completada", StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStatus("archived")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTask_EffectiveID(t *testing.T) {
	tk := Task{ClientID: "c1"}
	assert.Equal(t, "c1", tk.EffectiveID())
	assert.False(t, tk.Confirmed())

	tk.ID = "s1"
	assert.Equal(t, "s1", tk.EffectiveID())
	assert.True(t, tk.Confirmed())
}

func TestTask_Validate(t *testing.T) {
	valid := Task{ClientID: "c1", Title: "Buy milk", Status: StatusPending}
	require.NoError(t, valid.Validate())

	noTitle := valid
	noTitle.Title = "   "
	assert.ErrorIs(t, noTitle.Validate(), ErrInvalid)

	noClient := valid
	noClient.ClientID = ""
	assert.ErrorIs(t, noClient.Validate(), ErrInvalid)

	badStatus := valid
	badStatus.Status = "Archived"
	assert.ErrorIs(t, badStatus.Validate(), ErrInvalid)
}

func TestPatch_Apply(t *testing.T) {
	title := "  New title "
	status := StatusCompleted
	p := Patch{Title: &title, Status: &status}

	got := p.Apply(Task{ClientID: "c1", Title: "Old", Description: "keep", Status: StatusPending})
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "keep", got.Description)
	assert.Equal(t, StatusCompleted, got.Status)

	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, p.IsEmpty())
}

func TestFilter_Apply(t *testing.T) {
	tasks := []Task{
		{ClientID: "1", Title: "Buy milk", Description: "2 liters", Status: StatusPending},
		{ClientID: "2", Title: "Write report", Status: StatusInProgress},
		{ClientID: "3", Title: "Buy bread", Status: StatusCompleted},
		{ClientID: "4", Title: "Buy eggs", Status: StatusPending, Deleted: true},
	}

	ids := func(ts []Task) []string {
		out := make([]string, 0, len(ts))
		for _, tk := range ts {
			out = append(out, tk.ClientID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(Filter{}.Apply(tasks)))
	assert.Equal(t, []string{"1", "2"}, ids(Filter{View: ViewActive}.Apply(tasks)))
	assert.Equal(t, []string{"3"}, ids(Filter{View: ViewCompleted}.Apply(tasks)))
	assert.Equal(t, []string{"1", "3"}, ids(Filter{Search: "BUY"}.Apply(tasks)))
	assert.Equal(t, []string{"1"}, ids(Filter{Search: "liters"}.Apply(tasks)))
	assert.Equal(t, []string{"1", "3"}, ids(Filter{Match: "Buy *"}.Apply(tasks)))
	assert.Equal(t, []string{"3"}, ids(Filter{Match: "Buy *", View: ViewCompleted}.Apply(tasks)))
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{View: ViewActive, Match: "Buy *"}.Validate())
	assert.ErrorIs(t, Filter{View: "archived"}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Filter{Match: "[unclosed"}.Validate(), ErrInvalid)
}

func TestSummarize(t *testing.T) {
	stats := Summarize([]Task{
		{Status: StatusPending, SyncState: SyncPending},
		{Status: StatusInProgress, SyncState: SyncConfirmed},
		{Status: StatusCompleted, SyncState: SyncConfirmed},
		{Status: StatusCompleted, SyncState: SyncConfirmed},
		{Status: StatusPending, Deleted: true},
	})

	assert.Equal(t, Stats{Total: 4, Pending: 1, InProgress: 1, Completed: 2, Unsynced: 1}, stats)
}
