package store

import (
	"errors"
	"testing"
)

// assertDense checks that a partition's sort orders are exactly 0..n-1.
func assertDense(t *testing.T, s *Store, statusID string, parentID *string) {
	t.Helper()
	rows, err := s.db.Query(
		`SELECT sort_order FROM cards
		 WHERE status_id = ? AND COALESCE(parent_id, '') = COALESCE(?, '')
		 ORDER BY sort_order`,
		statusID, parentID,
	)
	if err != nil {
		t.Fatalf("querying partition: %v", err)
	}
	defer rows.Close()

	want := 0
	for rows.Next() {
		var got int
		if err := rows.Scan(&got); err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("sort_order = %d, want %d (dense ordering violated)", got, want)
		}
		want++
	}
}

func TestCreateCardLandsInBacklogDefault(t *testing.T) {
	s, _ := newTestStore(t)

	c1, err := s.CreateCard("T1", "", nil, nil, "")
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	if c1.StatusGroup != GroupBacklog || c1.SortOrder != 0 {
		t.Errorf("T1 = group %s order %d, want Backlog 0", c1.StatusGroup, c1.SortOrder)
	}

	c2, err := s.CreateCard("T2", "", nil, nil, "")
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	if c2.SortOrder != 1 {
		t.Errorf("T2 sort_order = %d, want 1", c2.SortOrder)
	}
}

func TestMoveCardAcrossStatuses(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	t2, _ := s.CreateCard("T2", "", nil, nil, "")

	inProgress, err := s.FindStatusByName("In Progress")
	if err != nil {
		t.Fatalf("FindStatusByName() error = %v", err)
	}

	moved, err := s.MoveCard(t1.ID, inProgress.ID, 0)
	if err != nil {
		t.Fatalf("MoveCard() error = %v", err)
	}
	if moved.SortOrder != 0 || moved.StatusGroup != GroupStarted {
		t.Errorf("moved = order %d group %s", moved.SortOrder, moved.StatusGroup)
	}

	stayed, err := s.GetCard(t2.ID)
	if err != nil {
		t.Fatalf("GetCard() error = %v", err)
	}
	if stayed.SortOrder != 0 {
		t.Errorf("T2 sort_order = %d, want 0 after gap closed", stayed.SortOrder)
	}

	assertDense(t, s, t1.StatusID, nil)
	assertDense(t, s, inProgress.ID, nil)
}

func TestMoveCardToSamePositionIsNoop(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	t2, _ := s.CreateCard("T2", "", nil, nil, "")

	moved, err := s.MoveCard(t2.ID, t2.StatusID, 1)
	if err != nil {
		t.Fatalf("MoveCard() error = %v", err)
	}
	if moved.SortOrder != 1 {
		t.Errorf("sort_order = %d, want 1", moved.SortOrder)
	}

	first, _ := s.GetCard(t1.ID)
	if first.SortOrder != 0 {
		t.Errorf("T1 sort_order = %d, want 0", first.SortOrder)
	}
	assertDense(t, s, t1.StatusID, nil)
}

func TestMoveCardWithinStatus(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	t2, _ := s.CreateCard("T2", "", nil, nil, "")
	t3, _ := s.CreateCard("T3", "", nil, nil, "")

	// Move the last card to the front.
	if _, err := s.MoveCard(t3.ID, t3.StatusID, 0); err != nil {
		t.Fatalf("MoveCard() error = %v", err)
	}

	col, err := s.ListCardsByStatus(t1.StatusID)
	if err != nil {
		t.Fatalf("ListCardsByStatus() error = %v", err)
	}
	gotTitles := []string{col[0].Title, col[1].Title, col[2].Title}
	wantTitles := []string{"T3", "T1", "T2"}
	for i := range wantTitles {
		if gotTitles[i] != wantTitles[i] {
			t.Errorf("column order = %v, want %v", gotTitles, wantTitles)
			break
		}
	}
	assertDense(t, s, t1.StatusID, nil)
	_ = t2
}

func TestMoveCardToUnknownStatusRejected(t *testing.T) {
	s, _ := newTestStore(t)
	t1, _ := s.CreateCard("T1", "", nil, nil, "")

	if _, err := s.MoveCard(t1.ID, "nope", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("MoveCard to unknown status error = %v, want ErrNotFound", err)
	}
}

func TestSubcardPartitionIndependent(t *testing.T) {
	s, _ := newTestStore(t)

	parent, _ := s.CreateCard("Parent", "", nil, nil, "")
	child1, err := s.CreateCard("C1", "", nil, &parent.ID, "")
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	child2, _ := s.CreateCard("C2", "", nil, &parent.ID, "")

	// Children order independently of the parent's partition.
	if child1.SortOrder != 0 || child2.SortOrder != 1 {
		t.Errorf("children orders = %d, %d", child1.SortOrder, child2.SortOrder)
	}

	top, _ := s.CreateCard("Top2", "", nil, nil, "")
	if top.SortOrder != 1 {
		t.Errorf("top-level sort_order = %d, want 1", top.SortOrder)
	}

	assertDense(t, s, parent.StatusID, &parent.ID)
	assertDense(t, s, parent.StatusID, nil)
}

func TestDeleteCardCascadesChildrenAndClosesGap(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	t2, _ := s.CreateCard("T2", "", nil, nil, "")
	t3, _ := s.CreateCard("T3", "", nil, nil, "")
	child, _ := s.CreateCard("Child", "", nil, &t2.ID, "")

	if err := s.DeleteCard(t2.ID); err != nil {
		t.Fatalf("DeleteCard() error = %v", err)
	}

	if _, err := s.GetCard(child.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("child should cascade on parent delete, got %v", err)
	}

	last, _ := s.GetCard(t3.ID)
	if last.SortOrder != 1 {
		t.Errorf("T3 sort_order = %d, want 1", last.SortOrder)
	}
	assertDense(t, s, t1.StatusID, nil)
}

func TestReorderCards(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	t2, _ := s.CreateCard("T2", "", nil, nil, "")
	t3, _ := s.CreateCard("T3", "", nil, nil, "")

	ordered, err := s.ReorderCards(t1.StatusID, []string{t3.ID, t1.ID, t2.ID})
	if err != nil {
		t.Fatalf("ReorderCards() error = %v", err)
	}
	if ordered[0].ID != t3.ID || ordered[1].ID != t1.ID || ordered[2].ID != t2.ID {
		t.Errorf("reordered ids wrong: %v %v %v", ordered[0].Title, ordered[1].Title, ordered[2].Title)
	}
	assertDense(t, s, t1.StatusID, nil)

	// Idempotent on an already-sorted list.
	again, err := s.ReorderCards(t1.StatusID, []string{t3.ID, t1.ID, t2.ID})
	if err != nil {
		t.Fatalf("ReorderCards() second error = %v", err)
	}
	for i := range ordered {
		if again[i].ID != ordered[i].ID || again[i].SortOrder != ordered[i].SortOrder {
			t.Errorf("reorder not idempotent at %d", i)
		}
	}
}

func TestReorderRejectsForeignCard(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	inProgress, _ := s.FindStatusByName("In Progress")

	if _, err := s.ReorderCards(inProgress.ID, []string{t1.ID}); !errors.Is(err, ErrInvalid) {
		t.Errorf("ReorderCards with foreign card error = %v, want ErrInvalid", err)
	}
}

func TestMoveCardToEndViaStatusName(t *testing.T) {
	s, _ := newTestStore(t)

	t1, _ := s.CreateCard("T1", "", nil, nil, "")
	t2, _ := s.CreateCard("T2", "", nil, nil, "")

	// Case-insensitive, hyphens as spaces.
	st, err := s.FindStatusByName("in-progress")
	if err != nil {
		t.Fatalf("FindStatusByName(in-progress) error = %v", err)
	}
	if st.Name != "In Progress" {
		t.Errorf("resolved %q, want In Progress", st.Name)
	}

	if _, err := s.MoveCardToEnd(t1.ID, st.ID); err != nil {
		t.Fatalf("MoveCardToEnd() error = %v", err)
	}
	moved, err := s.MoveCardToEnd(t2.ID, st.ID)
	if err != nil {
		t.Fatalf("MoveCardToEnd() error = %v", err)
	}
	if moved.SortOrder != 1 {
		t.Errorf("second moved card sort_order = %d, want 1 (appended)", moved.SortOrder)
	}
	assertDense(t, s, st.ID, nil)
	assertDense(t, s, t1.StatusID, nil)
}

func TestGetParentCard(t *testing.T) {
	s, _ := newTestStore(t)

	parent, _ := s.CreateCard("Parent", "desc", nil, nil, "")
	child, _ := s.CreateCard("Child", "", nil, &parent.ID, "")

	got, err := s.GetParentCard(child.ID)
	if err != nil {
		t.Fatalf("GetParentCard() error = %v", err)
	}
	if got == nil || got.ID != parent.ID {
		t.Errorf("parent = %+v", got)
	}

	none, err := s.GetParentCard(parent.ID)
	if err != nil {
		t.Fatalf("GetParentCard() error = %v", err)
	}
	if none != nil {
		t.Errorf("top-level card parent = %+v, want nil", none)
	}
}
