package videos

import (
	"context"
	"errors"
	"testing"

	"carnival/db/dbtest"
)

func TestStore_GetIncludesVoteCount(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	id := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "Murga")
	dbtest.InsertVote(t, d, id, "1.1.1.1", "")
	dbtest.InsertVote(t, d, id, "2.2.2.2", "")

	v, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.VoteCount != 2 || v.Title != "Murga" || v.CreatedAt.IsZero() {
		t.Errorf("video = %+v", v)
	}

	if _, err := s.Get(context.Background(), id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListFiltersAndSorts(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	ctx := context.Background()

	a := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "Bravo")
	b := dbtest.InsertVideo(t, d, "tiktok", "https://www.tiktok.com/@x/video/1", "1", "Alfa")
	c := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/c", "c", "Charlie")
	dbtest.InsertVote(t, d, c, "1.1.1.1", "")
	dbtest.InsertVote(t, d, c, "2.2.2.2", "")
	dbtest.InsertVote(t, d, b, "1.1.1.1", "")
	if _, err := d.ExecContext(ctx, `UPDATE videos SET view_count = 900 WHERE id = ?`, a); err != nil {
		t.Fatal(err)
	}

	ids := func(vs []Video) []int64 {
		out := make([]int64, len(vs))
		for i, v := range vs {
			out[i] = v.ID
		}
		return out
	}

	tests := []struct {
		name string
		opts ListOptions
		want []int64
	}{
		{"votes", ListOptions{Sort: SortVotes}, []int64{c, b, a}},
		{"title", ListOptions{Sort: SortTitle}, []int64{b, a, c}},
		{"views", ListOptions{Sort: SortViews}, []int64{a, b, c}},
		{"recent", ListOptions{Sort: SortRecent}, []int64{c, b, a}},
		{"unknown sort falls back to recent", ListOptions{Sort: "bogus"}, []int64{c, b, a}},
		{"platform", ListOptions{Platform: "youtube", Sort: SortTitle}, []int64{a, c}},
		{"limit", ListOptions{Sort: SortVotes, Limit: 1}, []int64{c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.opts)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			g := ids(got)
			if len(g) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", g, tt.want)
			}
			for i := range g {
				if g[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", g, tt.want)
				}
			}
		})
	}
}

func TestStore_Search(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "Gran Comparsa")
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/b", "b", "Murga")

	got, err := s.Search(context.Background(), "comparsa", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Gran Comparsa" {
		t.Errorf("search = %+v", got)
	}
}

func TestStore_SearchTreatsWildcardsLiterally(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	ctx := context.Background()
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "Gran Comparsa")
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/b", "b", "100% Samba")
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/c", "c", "Murga_2024")
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/d", "d", "MurgaX2024")

	tests := []struct {
		q    string
		want string
	}{
		{"%", "100% Samba"},
		{"a_2", "Murga_2024"},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, tt.q, 0)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.q, err)
		}
		if len(got) != 1 || got[0].Title != tt.want {
			t.Errorf("Search(%q) = %+v, want only %q", tt.q, got, tt.want)
		}
	}
}

func TestStore_Update(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	ctx := context.Background()
	id := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "Old")

	title := "New"
	v, err := s.Update(ctx, id, Update{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v.Title != "New" {
		t.Errorf("title = %q", v.Title)
	}
	if _, err := s.Update(ctx, id, Update{}); !errors.Is(err, ErrNoFields) {
		t.Errorf("empty update err = %v, want ErrNoFields", err)
	}
	if _, err := s.Update(ctx, id+1, Update{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing update err = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteCascadesVotes(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	ctx := context.Background()
	id := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "A")
	dbtest.InsertVote(t, d, id, "1.1.1.1", "")

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var votes int
	d.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE video_id = ?`, id).Scan(&votes)
	if votes != 0 {
		t.Errorf("votes after delete = %d, want 0", votes)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_BulkDelete(t *testing.T) {
	d := dbtest.New(t)
	s := NewStore(d)
	a := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/a", "a", "A")
	b := dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/b", "b", "B")
	dbtest.InsertVideo(t, d, "youtube", "https://youtu.be/c", "c", "C")

	n, err := s.BulkDelete(context.Background(), []int64{a, b, 999})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if n, _ := s.BulkDelete(context.Background(), nil); n != 0 {
		t.Errorf("empty bulk delete = %d", n)
	}
}
