package threading

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/felo/reportmaster/internal/model"
)

var day = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

// at parses "15:04" on the test day.
func at(t *testing.T, clock string) time.Time {
	t.Helper()
	parsed, err := time.Parse("15:04", clock)
	require.NoError(t, err)
	return day.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute)
}

func msg(id string, date time.Time, from string, to ...string) model.Message {
	return model.Message{ID: id, Date: date, Sender: from, Recipients: to, Subject: "subject " + id}
}

// partition renders threads as sorted sets of message IDs.
func partition(threads []*model.Thread) [][]string {
	out := make([][]string, 0, len(threads))
	for _, th := range threads {
		ids := th.MessageIDs()
		slices.Sort(ids)
		out = append(out, ids)
	}
	slices.SortFunc(out, func(a, b []string) int {
		return strings.Compare(strings.Join(a, ","), strings.Join(b, ","))
	})
	return out
}

func TestBuild_ParticipantAndGapScenario(t *testing.T) {
	messages := []model.Message{
		msg("A", at(t, "10:00"), "alice@example.com", "bob@example.com"),
		msg("B", at(t, "10:30"), "bob@example.com", "alice@example.com"),
		msg("C", at(t, "14:00"), "carol@example.com", "dave@example.com"),
	}

	tests := []struct {
		name   string
		maxGap time.Duration
		want   [][]string
	}{
		{name: "2h groups the reply", maxGap: 2 * time.Hour, want: [][]string{{"A", "B"}, {"C"}}},
		{name: "30m boundary is inclusive", maxGap: 30 * time.Minute, want: [][]string{{"A", "B"}, {"C"}}},
		{name: "10m splits everything", maxGap: 10 * time.Minute, want: [][]string{{"A"}, {"B"}, {"C"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threads, err := Build(messages, tt.maxGap)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, partition(threads)); diff != "" {
				t.Errorf("partition mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	threads, err := Build(nil, time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, threads)
	assert.Empty(t, threads)
}

func TestNewBuilder_RejectsNonPositiveGap(t *testing.T) {
	for _, gap := range []time.Duration{0, -time.Minute} {
		_, err := NewBuilder(gap)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestBuild_AddressComparisonIgnoresCase(t *testing.T) {
	messages := []model.Message{
		msg("1", at(t, "09:00"), "Alice <ALICE@Example.com>", "bob@example.com"),
		msg("2", at(t, "09:20"), "carol@example.com", "alice@example.COM"),
	}
	threads, err := Build(messages, time.Hour)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, threads[0].Participants)
}

func TestBuild_SenderOnlyOverlap(t *testing.T) {
	messages := []model.Message{
		msg("1", at(t, "09:00"), "alice@example.com", "bob@example.com"),
		msg("2", at(t, "09:10"), "alice@example.com"),
	}
	threads, err := Build(messages, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, partition(threads))
}

func TestBuild_GapIsMeasuredFromMostRecentMessage(t *testing.T) {
	// Each hop is 50m apart, so the chain stays together even though the
	// ends are 150m apart.
	messages := []model.Message{
		msg("1", at(t, "08:00"), "a@x.io", "b@x.io"),
		msg("2", at(t, "08:50"), "b@x.io", "a@x.io"),
		msg("3", at(t, "09:40"), "a@x.io", "b@x.io"),
		msg("4", at(t, "10:30"), "b@x.io", "a@x.io"),
	}
	threads, err := Build(messages, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2", "3", "4"}}, partition(threads))
}

func TestBuild_JoinsClosestCandidate(t *testing.T) {
	messages := []model.Message{
		msg("old", at(t, "09:00"), "alice@example.com", "bob@example.com"),
		msg("new", at(t, "09:40"), "alice@example.com", "carol@example.com"),
		msg("gap", at(t, "09:45"), "dave@example.com", "erin@example.com"),
		msg("pick", at(t, "09:50"), "bob@example.com", "erin@example.com"),
	}
	threads, err := Build(messages, time.Hour)
	require.NoError(t, err)
	// bob's thread last spoke at 09:40, erin's at 09:45: erin is closer.
	assert.Equal(t, [][]string{{"gap", "pick"}, {"new", "old"}}, partition(threads))
}

func TestBuild_TiesGoToEarliestThread(t *testing.T) {
	messages := []model.Message{
		msg("1", at(t, "09:00"), "alice@example.com"),
		msg("2", at(t, "09:00"), "bob@example.com"),
		msg("3", at(t, "09:30"), "alice@example.com", "bob@example.com"),
	}
	threads, err := Build(messages, time.Hour)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, []string{"1", "3"}, threads[0].MessageIDs())
	assert.Equal(t, []string{"2"}, threads[1].MessageIDs())
}

func TestBuild_MalformedMessagesBecomeSingletons(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	messages := []model.Message{
		msg("dated", at(t, "09:00"), "alice@example.com", "bob@example.com"),
		msg("undated", time.Time{}, "alice@example.com", "bob@example.com"),
		msg("nosender", at(t, "09:05"), "", "bob@example.com"),
		msg("garbage", at(t, "09:06"), "not an address", "bob@example.com"),
	}

	threads, err := Build(messages, time.Hour, WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"dated"}, {"garbage"}, {"nosender"}, {"undated"}}, partition(threads))
	assert.Equal(t, 3, logs.FilterMessage("malformed message placed in its own thread").Len())
}

func TestBuild_MessagesAreChronologicalWithStableTies(t *testing.T) {
	messages := []model.Message{
		msg("late", at(t, "11:00"), "alice@example.com", "bob@example.com"),
		msg("tie-b", at(t, "10:00"), "bob@example.com", "alice@example.com"),
		msg("tie-a", at(t, "10:00"), "alice@example.com", "bob@example.com"),
		msg("early", at(t, "09:30"), "alice@example.com", "bob@example.com"),
	}
	threads, err := Build(messages, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, []string{"early", "tie-b", "tie-a", "late"}, threads[0].MessageIDs())
	assert.Equal(t, at(t, "09:30"), threads[0].Start)
	assert.Equal(t, at(t, "11:00"), threads[0].End)
	assert.Equal(t, "subject early", threads[0].Subject)
}

func TestBuild_TimezonesCompareAsInstants(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	messages := []model.Message{
		msg("utc", at(t, "09:00"), "alice@example.com", "bob@example.com"),
		msg("cet", time.Date(2024, time.March, 4, 10, 20, 0, 0, berlin), "bob@example.com", "alice@example.com"),
	}
	threads, err := Build(messages, 30*time.Minute)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestBuild_ThreadIDsFollowCreationOrder(t *testing.T) {
	messages := []model.Message{
		msg("c", at(t, "12:00"), "carol@example.com"),
		msg("a", at(t, "08:00"), "alice@example.com"),
	}
	threads, err := Build(messages, time.Hour)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "T0001", threads[0].ID)
	assert.Equal(t, []string{"a"}, threads[0].MessageIDs())
	assert.Equal(t, "T0002", threads[1].ID)
}

// randomMessages draws a mailbox with a small address pool so that overlaps
// and gap decisions interact.
func randomMessages(r *rand.Rand, n int) []model.Message {
	pool := []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io", "e@x.io", "f@x.io", "g@x.io"}
	out := make([]model.Message, n)
	for i := range out {
		m := model.Message{
			ID:     fmt.Sprintf("m%03d", i),
			Sender: pool[r.Intn(len(pool))],
			Date:   day.Add(time.Duration(r.Intn(72*60)) * time.Minute),
		}
		for k := r.Intn(3); k > 0; k-- {
			m.Recipients = append(m.Recipients, pool[r.Intn(len(pool))])
		}
		if r.Intn(25) == 0 {
			m.Date = time.Time{}
		}
		out[i] = m
	}
	return out
}

func TestBuild_PartitionProperty(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		r := rand.New(rand.NewSource(seed))
		messages := randomMessages(r, 40+r.Intn(40))

		for _, bridge := range []bool{false, true} {
			threads, err := Build(messages, 3*time.Hour, WithBridge(bridge))
			require.NoError(t, err)

			seen := make(map[string]int)
			for _, th := range threads {
				require.NotEmpty(t, th.Messages)
				for _, id := range th.MessageIDs() {
					seen[id]++
				}
			}
			require.Len(t, seen, len(messages), "seed %d", seed)
			for id, n := range seen {
				require.Equal(t, 1, n, "seed %d: message %s placed %d times", seed, id, n)
			}
		}
	}
}

func TestBuild_OrderIndependence(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		r := rand.New(rand.NewSource(seed))
		messages := randomMessages(r, 50)

		for _, bridge := range []bool{false, true} {
			want, err := Build(messages, 2*time.Hour, WithBridge(bridge))
			require.NoError(t, err)

			shuffled := slices.Clone(messages)
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			got, err := Build(shuffled, 2*time.Hour, WithBridge(bridge))
			require.NoError(t, err)

			if diff := cmp.Diff(partition(want), partition(got)); diff != "" {
				t.Fatalf("seed %d bridge=%v: partition changed after shuffle (-want +got):\n%s", seed, bridge, diff)
			}
			for _, th := range got {
				for i := 1; i < len(th.Messages); i++ {
					prev, cur := th.Messages[i-1], th.Messages[i]
					if prev.HasDate() && cur.HasDate() {
						require.False(t, cur.Date.Before(prev.Date), "thread %s out of order", th.ID)
					}
				}
			}
		}
	}
}

func TestBuild_BridgeModeGapMonotonicity(t *testing.T) {
	gaps := []time.Duration{5 * time.Minute, 30 * time.Minute, time.Hour, 3 * time.Hour, 12 * time.Hour, 48 * time.Hour}
	for seed := int64(1); seed <= 25; seed++ {
		r := rand.New(rand.NewSource(seed))
		messages := randomMessages(r, 60)

		prev := len(messages) + 1
		for _, gap := range gaps {
			threads, err := Build(messages, gap, WithBridge(true))
			require.NoError(t, err)
			require.LessOrEqual(t, len(threads), prev, "seed %d: gap %s produced more threads", seed, gap)
			prev = len(threads)
		}
	}
}

func TestBuild_ScenarioGapMonotonicity(t *testing.T) {
	messages := []model.Message{
		msg("A", at(t, "10:00"), "alice@example.com", "bob@example.com"),
		msg("B", at(t, "10:30"), "bob@example.com", "alice@example.com"),
		msg("C", at(t, "14:00"), "carol@example.com", "dave@example.com"),
		msg("D", at(t, "15:30"), "dave@example.com", "alice@example.com"),
		msg("E", at(t, "18:00"), "bob@example.com"),
	}
	prev := len(messages)
	for _, gap := range []time.Duration{time.Minute, 30 * time.Minute, 90 * time.Minute, 4 * time.Hour, 24 * time.Hour} {
		threads, err := Build(messages, gap)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(threads), prev, "gap %s", gap)
		prev = len(threads)
	}
	assert.Equal(t, 2, prev)
}

// Closest-match assignment can strand an address in an older thread when a
// wider gap lets a message pick a different thread. Bridge mode folds the
// competing threads together instead.
func TestBuild_BridgeModeFoldsCompetingThreads(t *testing.T) {
	messages := []model.Message{
		msg("m1", at(t, "01:40"), "a@x.io", "x@x.io"),
		msg("m2", at(t, "02:50"), "p@x.io", "q@x.io", "r@x.io"),
		msg("m3", at(t, "03:00"), "a@x.io", "y@x.io"),
		msg("m4", at(t, "03:45"), "x@x.io", "q@x.io"),
		msg("m5", at(t, "04:30"), "p@x.io", "z@x.io"),
		msg("m6", at(t, "04:31"), "r@x.io", "w@x.io"),
	}

	count := func(gap time.Duration, bridge bool) int {
		threads, err := Build(messages, gap, WithBridge(bridge))
		require.NoError(t, err)
		return len(threads)
	}

	assert.Equal(t, 3, count(time.Hour, false))
	assert.Equal(t, 4, count(90*time.Minute, false))

	assert.Equal(t, 3, count(time.Hour, true))
	assert.Equal(t, 1, count(90*time.Minute, true))
}
