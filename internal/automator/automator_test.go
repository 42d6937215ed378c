package automator

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"studiobridge/internal/config"
)

// fakeDriver scripts the host UI's responses and records every delete's
// resolved index.
type fakeDriver struct {
	menuOpens      bool
	hasDeleteEntry bool
	dialogOpens    bool
	confirms       bool
	dialogDismiss  bool

	failDeleteOfIndex int // -1 disables

	clickedIndices []int
	menuIndices    []int
	currentIndex   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		menuOpens:         true,
		hasDeleteEntry:    true,
		dialogOpens:       true,
		confirms:          true,
		dialogDismiss:     true,
		failDeleteOfIndex: -1,
	}
}

func (f *fakeDriver) ClickEntity(_ context.Context, index int, _ string) error {
	f.clickedIndices = append(f.clickedIndices, index)
	return nil
}

func (f *fakeDriver) OpenEntityMenu(_ context.Context, index int, _ string) error {
	f.menuIndices = append(f.menuIndices, index)
	f.currentIndex = index
	return nil
}

func (f *fakeDriver) MenuOpen(context.Context) (bool, error) {
	return f.menuOpens && f.currentIndex != f.failDeleteOfIndex, nil
}

func (f *fakeDriver) RepositionMenu(context.Context, *float64, *float64) error { return nil }

func (f *fakeDriver) ClickMenuDelete(context.Context) (bool, error) {
	return f.hasDeleteEntry, nil
}

func (f *fakeDriver) DialogOpen(context.Context) (bool, error) { return f.dialogOpens, nil }

func (f *fakeDriver) ClickConfirm(context.Context) (bool, error) { return f.confirms, nil }

func (f *fakeDriver) DialogGone(context.Context) (bool, error) { return f.dialogDismiss, nil }

func fastConfig() config.AutomationConfig {
	return config.AutomationConfig{
		MenuWaitMs:    40,
		PreDialogMs:   1,
		DialogWaitMs:  40,
		DismissWaitMs: 40,
		BatchDelayMs:  1,
	}
}

func TestDeleteHappyPath(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, fastConfig(), zap.NewNop())

	if err := a.Delete(context.Background(), Target{Index: 2, Title: "B"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(driver.menuIndices) != 1 || driver.menuIndices[0] != 2 {
		t.Errorf("expected one menu open at index 2, got %v", driver.menuIndices)
	}
}

func TestDeleteMenuTimeout(t *testing.T) {
	driver := newFakeDriver()
	driver.menuOpens = false
	a := New(driver, fastConfig(), zap.NewNop())

	err := a.Delete(context.Background(), Target{Index: 0, Title: "A"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "menu") {
		t.Errorf("error should name the missing menu: %v", err)
	}
}

func TestDeleteNoDeleteEntry(t *testing.T) {
	driver := newFakeDriver()
	driver.hasDeleteEntry = false
	a := New(driver, fastConfig(), zap.NewNop())

	err := a.Delete(context.Background(), Target{Index: 0})
	if err == nil || !strings.Contains(err.Error(), "no delete entry") {
		t.Fatalf("expected missing-entry error, got %v", err)
	}
}

func TestDeleteDialogNeverDismissed(t *testing.T) {
	driver := newFakeDriver()
	driver.dialogDismiss = false
	a := New(driver, fastConfig(), zap.NewNop())

	err := a.Delete(context.Background(), Target{Index: 0})
	if err == nil || !strings.Contains(err.Error(), "dismissal") {
		t.Fatalf("expected dismissal timeout, got %v", err)
	}
}

func TestDeleteBatchAdjustsIndices(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, fastConfig(), zap.NewNop())

	targets := []Target{{Index: 0, Title: "A"}, {Index: 3, Title: "D"}, {Index: 5, Title: "F"}}
	result := a.DeleteBatch(context.Background(), targets, nil)

	if result.Deleted != 3 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// Each completed delete shifts later items up by one.
	expected := []int{0, 2, 3}
	if len(driver.menuIndices) != len(expected) {
		t.Fatalf("expected %d deletes, got %v", len(expected), driver.menuIndices)
	}
	for i, want := range expected {
		if driver.menuIndices[i] != want {
			t.Errorf("delete %d: expected adjusted index %d, got %d", i, want, driver.menuIndices[i])
		}
	}
}

func TestDeleteBatchContinuesAfterFailure(t *testing.T) {
	driver := newFakeDriver()
	driver.failDeleteOfIndex = 1 // the second item, after one successful delete
	a := New(driver, fastConfig(), zap.NewNop())

	targets := []Target{{Index: 0, Title: "A"}, {Index: 2, Title: "C"}, {Index: 4, Title: "E"}}
	result := a.DeleteBatch(context.Background(), targets, nil)

	if result.Deleted != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 deleted 1 failed, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %v", result.Errors)
	}
	// Failed items do not advance the shift.
	expected := []int{0, 1, 3}
	for i, want := range expected {
		if driver.menuIndices[i] != want {
			t.Errorf("delete %d: expected adjusted index %d, got %d", i, want, driver.menuIndices[i])
		}
	}
}

func TestDeleteBatchProgress(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, fastConfig(), zap.NewNop())

	var reports []BatchProgress
	targets := []Target{{Index: 0, Title: "A"}, {Index: 1, Title: "B"}}
	a.DeleteBatch(context.Background(), targets, func(p BatchProgress) {
		reports = append(reports, p)
	})

	if len(reports) != 2 {
		t.Fatalf("expected a report per item, got %d", len(reports))
	}
	for i, p := range reports {
		if p.Completed != i+1 || p.Total != 2 {
			t.Errorf("report %d not monotonic: %+v", i, p)
		}
	}
	if reports[0].Current != "A" || reports[1].Current != "B" {
		t.Errorf("reports should name the current item: %+v", reports)
	}
}

func TestDeleteBatchCancelledContext(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, fastConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := a.DeleteBatch(ctx, []Target{{Index: 0}, {Index: 1}}, nil)
	if result.Deleted != 0 {
		t.Errorf("cancelled batch must not delete, got %+v", result)
	}
	if result.Failed != 2 {
		t.Errorf("remaining items count as failed, got %+v", result)
	}
	if len(driver.menuIndices) != 0 {
		t.Errorf("no UI interaction after cancellation, got %v", driver.menuIndices)
	}
}

func TestOpenUsesClickEntity(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, fastConfig(), zap.NewNop())

	if err := a.Open(context.Background(), Target{Index: 1, Title: "B"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(driver.clickedIndices) != 1 || driver.clickedIndices[0] != 1 {
		t.Errorf("expected one entity click at index 1, got %v", driver.clickedIndices)
	}
}
