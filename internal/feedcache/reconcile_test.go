package feedcache

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"social-feed/server/internal/model"
	"social-feed/server/internal/validation"
)

func loadPages(t *testing.T, client *Client, key Key, pages int) {
	t.Helper()
	for i := 0; i < pages; i++ {
		if _, err := client.FetchNextPage(context.Background(), key); err != nil {
			t.Fatalf("fetch %s: %v", key, err)
		}
	}
}

func TestCreatePrependsToFirstPage(t *testing.T) {
	transport := newFakeTransport(3)
	key := FeedKey(FeedForYou)
	transport.setFeed(key, "P3", "P2", "P1", "P0")
	client, notes := newTestClient(t, transport)
	loadPages(t, client, key, 1)

	before := client.Feeds.Snapshot(key)
	created, err := client.CreatePost(context.Background(), validation.CreatePostInput{Content: "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	after := client.Feeds.Snapshot(key)
	if diff := cmp.Diff([][]string{{created.ID, "P3", "P2", "P1"}}, pageIDs(after)); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
	if *after.Pages[0].NextCursor != *before.Pages[0].NextCursor {
		t.Fatalf("cursor moved: %s -> %s", *before.Pages[0].NextCursor, *after.Pages[0].NextCursor)
	}
	if diff := cmp.Diff(before.PageParams, after.PageParams); diff != "" {
		t.Fatalf("page params changed (-before +after):\n%s", diff)
	}
	if _, ok := client.Infos.Get(LikeInfoKey(created.ID)); !ok {
		t.Fatalf("created post should seed its like info")
	}
	if notes.failures() != 0 {
		t.Fatalf("unexpected failure notifications")
	}
}

func TestCreateScopesPartitions(t *testing.T) {
	transport := newFakeTransport(10)
	forYou := FeedKey(FeedForYou)
	postsA := UserPostsKey("A")
	postsB := UserPostsKey("B")
	following := FeedKey(FeedFollowing)
	transport.setFeed(forYou, "P1")
	transport.setFeed(postsA, "P1")
	transport.setFeed(following, "P1")
	transport.feeds[postsB] = []model.Post{post("Q1", "B")}
	client, _ := newTestClient(t, transport)
	for _, key := range []Key{forYou, postsA, postsB, following} {
		loadPages(t, client, key, 1)
	}

	created, err := client.CreatePost(context.Background(), validation.CreatePostInput{Content: "scoped"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := map[Key][]string{
		forYou:    {created.ID, "P1"},
		postsA:    {created.ID, "P1"},
		postsB:    {"Q1"},
		following: {"P1"},
	}
	for key, ids := range want {
		if diff := cmp.Diff(ids, idsOf(client.Feeds.Snapshot(key))); diff != "" {
			t.Errorf("%s (-want +got):\n%s", key, diff)
		}
	}
}

func TestCreateDoesNotMaterializeUncachedPartitions(t *testing.T) {
	transport := newFakeTransport(10)
	client, _ := newTestClient(t, transport)
	if _, err := client.CreatePost(context.Background(), validation.CreatePostInput{Content: "nobody is looking"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if keys := client.Feeds.Keys(MatchAllFeeds()); len(keys) != 0 {
		t.Fatalf("partitions created: %v", keys)
	}
}

func TestCreateMarksPagelessPartitionStale(t *testing.T) {
	transport := newFakeTransport(10)
	key := FeedKey(FeedForYou)
	transport.setFeed(key, "P1")
	transport.pageErr = errBoom
	client, _ := newTestClient(t, transport)
	if _, err := client.FetchNextPage(context.Background(), key); err == nil {
		t.Fatalf("expected first fetch to fail")
	}

	if _, err := client.CreatePost(context.Background(), validation.CreatePostInput{Content: "later"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := client.Feeds.Snapshot(key)
	if !snap.Stale || len(snap.Pages) != 0 {
		t.Fatalf("pageless partition should be stale and empty: stale=%v pages=%d", snap.Stale, len(snap.Pages))
	}
}

func TestCreateSkipsDuplicates(t *testing.T) {
	transport := newFakeTransport(10)
	key := FeedKey(FeedForYou)
	transport.setFeed(key, "P1")
	client, _ := newTestClient(t, transport)
	loadPages(t, client, key, 1)

	p := post("P1", "A")
	if n := client.Feeds.PrependToFeeds(MatchExact(key), p); n != 0 {
		t.Fatalf("duplicate inserted into %d feeds", n)
	}
	if diff := cmp.Diff([]string{"P1"}, idsOf(client.Feeds.Snapshot(key))); diff != "" {
		t.Fatalf("items (-want +got):\n%s", diff)
	}
}

func TestDeleteFiltersEveryPageKeepingCursors(t *testing.T) {
	transport := newFakeTransport(2)
	key := FeedKey(FeedForYou)
	transport.setFeed(key, "P4", "P3", "P2", "P1", "P0")
	client, _ := newTestClient(t, transport)
	loadPages(t, client, key, 2)

	before := client.Feeds.Snapshot(key)
	if diff := cmp.Diff([][]string{{"P4", "P3"}, {"P2", "P1"}}, pageIDs(before)); diff != "" {
		t.Fatalf("loaded pages (-want +got):\n%s", diff)
	}
	if _, err := client.DeletePost(context.Background(), "P2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after := client.Feeds.Snapshot(key)
	if diff := cmp.Diff([][]string{{"P4", "P3"}, {"P1"}}, pageIDs(after)); diff != "" {
		t.Fatalf("pages after delete (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"", "P2"}, after.PageParams); diff != "" {
		t.Fatalf("page params (-want +got):\n%s", diff)
	}
	if *after.Pages[1].NextCursor != "P0" {
		t.Fatalf("next cursor: %s", *after.Pages[1].NextCursor)
	}

	next, err := client.FetchNextPage(context.Background(), key)
	if err != nil {
		t.Fatalf("next page: %v", err)
	}
	if diff := cmp.Diff([][]string{{"P4", "P3"}, {"P1"}, {"P0"}}, pageIDs(next)); diff != "" {
		t.Fatalf("pages after next fetch (-want +got):\n%s", diff)
	}
}

func TestDeleteReachesEveryFeed(t *testing.T) {
	transport := newFakeTransport(10)
	keys := []Key{FeedKey(FeedForYou), FeedKey(FeedFollowing), FeedKey(FeedBookmarks), UserPostsKey("A"), UserPostsKey("B")}
	for _, key := range keys {
		transport.setFeed(key, "P2", "P1")
	}
	client, _ := newTestClient(t, transport)
	for _, key := range keys {
		loadPages(t, client, key, 1)
	}
	client.Infos.Set(LikeInfoKey("P1"), model.Counted(true, 3))

	if _, err := client.DeletePost(context.Background(), "P1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range keys {
		if diff := cmp.Diff([]string{"P2"}, idsOf(client.Feeds.Snapshot(key))); diff != "" {
			t.Errorf("%s (-want +got):\n%s", key, diff)
		}
	}
	if _, ok := client.Infos.Get(LikeInfoKey("P1")); ok {
		t.Fatalf("like info of deleted post should be forgotten")
	}
}

func TestRewriteAuthor(t *testing.T) {
	transport := newFakeTransport(10)
	key := FeedKey(FeedForYou)
	transport.feeds[key] = []model.Post{post("P2", "B"), post("P1", "A")}
	client, _ := newTestClient(t, transport)
	loadPages(t, client, key, 1)

	user, err := client.UpdateProfile(context.Background(), validation.ProfileInput{DisplayName: "Alice Again", Bio: "hi"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	items := client.Feeds.Snapshot(key).Items()
	if items[1].User.DisplayName != user.DisplayName {
		t.Fatalf("author not rewritten: %+v", items[1].User)
	}
	if items[0].User.DisplayName != "" {
		t.Fatalf("other author changed: %+v", items[0].User)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	transport := newFakeTransport(10)
	key := FeedKey(FeedForYou)
	transport.setFeed(key, "P1")
	client, _ := newTestClient(t, transport)
	loadPages(t, client, key, 1)

	snap := client.Feeds.Snapshot(key)
	snap.Pages[0].Items[0].Content = "mutated"
	if client.Feeds.Snapshot(key).Items()[0].Content == "mutated" {
		t.Fatalf("snapshot aliases cache storage")
	}
}

func idsOf(snap Snapshot) []string {
	return ids(snap.Items())
}
