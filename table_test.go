package entidb

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/entity"
	"github.com/hupe1980/entidb/idgen"
	"github.com/hupe1980/entidb/index/exact"
	"github.com/hupe1980/entidb/index/fuzzy"
	"github.com/hupe1980/entidb/store"
)

type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int64  `json:"age"`
}

func userEmail(u User) entity.Key { return entity.String(u.Email) }
func userAge(u User) entity.Key   { return entity.Int(u.Age) }
func userName(u User) []string    { return []string{u.Name} }

// newUserTable builds the standard fixture: deterministic identifiers, a
// plain index on age, a unique index on email and a fuzzy index on name.
// The age index is declared first so rollback paths exercise undo of an
// already-applied index.
func newUserTable(t *testing.T) *Table[User] {
	t.Helper()

	table, err := New[User]("users").
		IDGenerator(idgen.Sequential("u")).
		Index("age", userAge).
		UniqueIndex("email", userEmail).
		FuzzyIndex("name", userName).
		Build()
	require.NoError(t, err)

	return table
}

func TestInsertGet(t *testing.T) {
	table := newUserTable(t)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)
	assert.Equal(t, core.ID("u-0000000001"), id)
	assert.Equal(t, 1, table.Len())

	got, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Alice", got.Name)

	_, ok = table.Get("missing")
	assert.False(t, ok)
}

func TestInsertUniqueConstraint(t *testing.T) {
	table := newUserTable(t)

	aliceID, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)

	_, err = table.Insert(User{Name: "Impostor", Email: "alice@example.com", Age: 44})
	var uc *ErrUniqueConstraint
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, "email", uc.Index)
	assert.Equal(t, aliceID, uc.ExistingID)
	assert.Equal(t, entity.String("alice@example.com"), uc.Key)

	// The failed insert must be invisible everywhere: record store, the
	// age index applied before the violation, and the fuzzy index.
	assert.Equal(t, 1, table.Len())

	entries, err := table.Lookup("age", entity.Int(44))
	require.NoError(t, err)
	assert.Empty(t, entries)

	results, err := table.Search("name", "impostor", 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertDuplicateID(t *testing.T) {
	table, err := New[User]("users").
		IDGenerator(idgen.Fixed("same")).
		Index("age", userAge).
		Build()
	require.NoError(t, err)

	_, err = table.Insert(User{Name: "Alice", Age: 30})
	require.NoError(t, err)

	_, err = table.Insert(User{Name: "Bob", Age: 25})
	require.ErrorIs(t, err, ErrDuplicateID)

	assert.Equal(t, 1, table.Len())
	entries, err := table.Lookup("age", entity.Int(25))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInsertExhaustedIDSpace(t *testing.T) {
	table := newUserTable(t)

	// Exhaustion cannot be provoked through the public surface without
	// 2^32 inserts, so the boundary mapping is verified directly.
	err := table.translateError(store.ErrExhausted)
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, store.ErrExhausted)
}

func TestUpdate(t *testing.T) {
	table := newUserTable(t)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)

	require.NoError(t, table.Update(id, User{Name: "Alina", Email: "alina@example.com", Age: 31}))

	got, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Alina", got.Name)

	// Old index entries are gone, new ones are visible.
	entries, err := table.Lookup("email", entity.String("alice@example.com"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = table.Lookup("email", entity.String("alina@example.com"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	results, err := table.Search("name", "alice", 0.9, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = table.Search("name", "alina", 0.9, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestUpdateNotFound(t *testing.T) {
	table := newUserTable(t)

	err := table.Update("missing", User{Name: "Ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUniqueConstraintLeavesTableUntouched(t *testing.T) {
	table := newUserTable(t)

	_, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)
	bobID, err := table.Insert(User{Name: "Bob", Email: "bob@example.com", Age: 25})
	require.NoError(t, err)

	// Bob tries to take Alice's email.
	err = table.Update(bobID, User{Name: "Bob", Email: "alice@example.com", Age: 25})
	var uc *ErrUniqueConstraint
	require.ErrorAs(t, err, &uc)

	got, ok := table.Get(bobID)
	require.True(t, ok)
	assert.Equal(t, "bob@example.com", got.Email, "failed update must not change the record")

	entries, err := table.Lookup("email", entity.String("bob@example.com"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, bobID, entries[0].ID)

	entries, err = table.Lookup("email", entity.String("alice@example.com"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "alice keeps her key")
}

func TestUpdateKeepingUniqueKey(t *testing.T) {
	table := newUserTable(t)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)

	// Unchanged unique key must not conflict with itself.
	require.NoError(t, table.Update(id, User{Name: "Alice", Email: "alice@example.com", Age: 31}))

	entries, err := table.Lookup("age", entity.Int(31))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestUpdateRollsBackOnIndexFailure(t *testing.T) {
	table := newUserTable(t)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)

	// Desynchronize the fuzzy index behind the table's back so the commit
	// phase fails mid-way: the age index swaps first, then the fuzzy remove
	// hits the missing posting lists.
	local, ok := table.records.Resolve(id)
	require.True(t, ok)
	fx := table.byName["name"].(*fuzzy.Index[User])
	require.NoError(t, fx.Remove(local, User{Name: "Alice"}))

	err = table.Update(id, User{Name: "Alicia", Email: "alice@example.com", Age: 31})
	var iv *ErrInvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, "name", iv.Index)

	// The record and the already swapped age index are rolled back.
	got, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, int64(30), got.Age)

	entries, err := table.Lookup("age", entity.Int(30))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	entries, err = table.Lookup("age", entity.Int(31))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDelete(t *testing.T) {
	table := newUserTable(t)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)

	require.NoError(t, table.Delete(id))
	assert.Equal(t, 0, table.Len())

	_, ok := table.Get(id)
	assert.False(t, ok)

	entries, err := table.Lookup("email", entity.String("alice@example.com"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	results, err := table.Search("name", "alice", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.ErrorIs(t, table.Delete(id), ErrNotFound)
}

func TestDeleteFreesUniqueKey(t *testing.T) {
	table := newUserTable(t)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)
	require.NoError(t, table.Delete(id))

	_, err = table.Insert(User{Name: "Alice II", Email: "alice@example.com", Age: 31})
	require.NoError(t, err)
}

func TestLookup(t *testing.T) {
	table := newUserTable(t)

	age30 := []User{
		{Name: "Alice", Email: "alice@example.com", Age: 30},
		{Name: "Carol", Email: "carol@example.com", Age: 30},
	}
	var ids []core.ID
	for _, u := range age30 {
		id, err := table.Insert(u)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := table.Insert(User{Name: "Bob", Email: "bob@example.com", Age: 25})
	require.NoError(t, err)

	entries, err := table.Lookup("age", entity.Int(30))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[0], entries[0].ID)
	assert.Equal(t, ids[1], entries[1].ID)

	entries, err = table.Lookup("age", entity.Int(99))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLookupRange(t *testing.T) {
	table := newUserTable(t)

	for i, age := range []int64{20, 25, 30, 35, 40} {
		_, err := table.Insert(User{
			Name:  fmt.Sprintf("User%d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
			Age:   age,
		})
		require.NoError(t, err)
	}

	entries, err := table.LookupRange("age", entity.Int(25), entity.Int(35))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(25), entries[0].Entity.Age)
	assert.Equal(t, int64(30), entries[1].Entity.Age)
	assert.Equal(t, int64(35), entries[2].Entity.Age)
}

func TestLookupUnknownIndex(t *testing.T) {
	table := newUserTable(t)

	_, err := table.Lookup("nope", entity.Int(1))
	require.ErrorIs(t, err, ErrInvalidArgument)

	// A fuzzy index cannot serve exact lookups, and vice versa.
	_, err = table.Lookup("name", entity.String("Alice"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = table.Search("age", "alice", 0.5, 10)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSearch(t *testing.T) {
	table := newUserTable(t)

	names := []string{"Alice", "Alise", "Alicia", "Bob"}
	byName := make(map[string]core.ID, len(names))
	for i, name := range names {
		id, err := table.Insert(User{
			Name:  name,
			Email: fmt.Sprintf("user%d@example.com", i),
			Age:   int64(20 + i),
		})
		require.NoError(t, err)
		byName[name] = id
	}

	results, err := table.Search("name", "alice", 0.5, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, byName["Alice"], results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, byName["Alise"], results[1].ID, "score ties break by identifier")
	assert.Equal(t, byName["Alicia"], results[2].ID)

	// A one-letter typo still clears a 0.7 threshold on a 5-rune query.
	results, err = table.Search("name", "Alise", 0.7, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, byName["Alise"], results[0].ID)
	assert.Equal(t, byName["Alice"], results[1].ID)
	assert.GreaterOrEqual(t, results[1].Score, 0.7)

	// Tightening the threshold only ever drops results.
	results, err = table.Search("name", "alice", 1.0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, byName["Alice"], results[0].ID)
}

func TestSearchInvalidArguments(t *testing.T) {
	table := newUserTable(t)

	_, err := table.Search("name", "alice", 0.5, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = table.Search("name", "alice", 1.5, 10)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = table.Search("name", "aaaaaaaaaabbbbbbbbbbccccccccccdd!", 0.5, 10)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestScan(t *testing.T) {
	table := newUserTable(t)

	for i := 0; i < 3; i++ {
		_, err := table.Insert(User{
			Name:  fmt.Sprintf("User%d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
			Age:   int64(20 + i),
		})
		require.NoError(t, err)
	}

	var ids []core.ID
	for id, u := range table.Scan() {
		ids = append(ids, id)
		assert.NotEmpty(t, u.Name)
	}
	assert.Equal(t, []core.ID{"u-0000000001", "u-0000000002", "u-0000000003"}, ids)
}

func TestAddIndex(t *testing.T) {
	table := newUserTable(t)

	aliceID, err := table.Insert(User{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)

	require.NoError(t, table.AddIndex(exact.New("name_exact", func(u User) entity.Key {
		return entity.String(u.Name)
	})))

	entries, err := table.Lookup("name_exact", entity.String("Alice"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, aliceID, entries[0].ID)

	// Entities inserted after attachment are indexed too.
	bobID, err := table.Insert(User{Name: "Bob", Email: "bob@example.com", Age: 25})
	require.NoError(t, err)
	entries, err = table.Lookup("name_exact", entity.String("Bob"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, bobID, entries[0].ID)
}

func TestAddIndexBackfillConflict(t *testing.T) {
	table := newUserTable(t)

	for i := 0; i < 2; i++ {
		_, err := table.Insert(User{
			Name:  "Twin",
			Email: fmt.Sprintf("twin%d@example.com", i),
			Age:   30,
		})
		require.NoError(t, err)
	}

	err := table.AddIndex(exact.New("name_unique", func(u User) entity.Key {
		return entity.String(u.Name)
	}, exact.WithUnique()))
	var uc *ErrUniqueConstraint
	require.ErrorAs(t, err, &uc)

	assert.NotContains(t, table.IndexNames(), "name_unique")
}

func TestAddIndexDuplicateName(t *testing.T) {
	table := newUserTable(t)

	err := table.AddIndex(exact.New("age", userAge))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIndexNames(t *testing.T) {
	table := newUserTable(t)
	assert.Equal(t, []string{"age", "email", "name"}, table.IndexNames())
}

func TestMetrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}

	table, err := New[User]("users").
		IDGenerator(idgen.Sequential("u")).
		UniqueIndex("email", userEmail).
		FuzzyIndex("name", userName).
		Metrics(metrics).
		Build()
	require.NoError(t, err)

	id, err := table.Insert(User{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = table.Insert(User{Name: "Impostor", Email: "alice@example.com"})
	require.Error(t, err)

	require.NoError(t, table.Update(id, User{Name: "Alice", Email: "alice@example.org"}))
	require.NoError(t, table.Delete(id))

	_, err = table.Search("name", "alice", 0.5, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(2), metrics.InsertCount.Load())
	assert.Equal(t, int64(1), metrics.InsertErrors.Load())
	assert.Equal(t, int64(1), metrics.UpdateCount.Load())
	assert.Equal(t, int64(1), metrics.DeleteCount.Load())
	assert.Equal(t, int64(1), metrics.SearchCount.Load())
	assert.Equal(t, int64(0), metrics.SearchErrors.Load())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	table := newUserTable(t)

	seed := make([]core.ID, 0, 50)
	for i := 0; i < 50; i++ {
		id, err := table.Insert(User{
			Name:  fmt.Sprintf("User%d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
			Age:   int64(i % 10),
		})
		require.NoError(t, err)
		seed = append(seed, id)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := table.Insert(User{
					Name:  fmt.Sprintf("W%dUser%d", w, i),
					Email: fmt.Sprintf("w%duser%d@example.com", w, i),
					Age:   int64(i % 10),
				})
				if err != nil {
					errCh <- err
					return
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				table.Get(seed[i%len(seed)])
				if _, err := table.Lookup("age", entity.Int(int64(i%10))); err != nil {
					errCh <- err
					return
				}
				if _, err := table.Search("name", "user", 0.5, 5); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Equal(t, 250, table.Len())
}
