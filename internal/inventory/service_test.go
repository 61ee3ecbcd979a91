package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	materials map[int64]Material
	movements []StockMovement
	aliases   []MaterialAlias
	requests  map[int64]int64 // request id -> material id
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		materials: make(map[int64]Material),
		requests:  make(map[int64]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetMaterial(ctx context.Context, id int64) (Material, error) {
	m, ok := r.materials[id]
	if !ok {
		return Material{}, ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) GetMaterialByExactName(ctx context.Context, name string) (Material, error) {
	for _, m := range r.materials {
		if m.Name == name && !m.Archived {
			return m, nil
		}
	}
	return Material{}, ErrNotFound
}

func (r *memoryRepo) FindByNormalizedName(ctx context.Context, normalized string) (Material, error) {
	for _, m := range r.materials {
		if m.NormalizedName == normalized && !m.Archived {
			return m, nil
		}
	}
	for _, alias := range r.aliases {
		if alias.NormalizedName == normalized {
			return r.GetMaterial(ctx, alias.MaterialID)
		}
	}
	return Material{}, ErrNotFound
}

func (r *memoryRepo) ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error) {
	var out []Material
	for _, m := range r.materials {
		if !filter.IncludeArchived && m.Archived {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		out = append(out, m)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, materialID int64, limit int) ([]StockMovement, error) {
	var out []StockMovement
	for _, mv := range r.movements {
		if mv.MaterialID == materialID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertMaterial(ctx context.Context, m Material) (int64, error) {
	for _, existing := range tx.repo.materials {
		if existing.NormalizedName == m.NormalizedName {
			return 0, ErrDuplicateName
		}
	}
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.materials[m.ID] = m
	return m.ID, nil
}

func (tx *memoryTx) IncrementStock(ctx context.Context, id int64, delta int64) (int64, error) {
	m, ok := tx.repo.materials[id]
	if !ok {
		return 0, ErrNotFound
	}
	if m.Stock+delta < 0 {
		return 0, ErrInsufficientStock
	}
	m.Stock += delta
	tx.repo.materials[id] = m
	return m.Stock, nil
}

func (tx *memoryTx) SetArchived(ctx context.Context, id int64, archived bool) error {
	m, ok := tx.repo.materials[id]
	if !ok {
		return ErrNotFound
	}
	m.Archived = archived
	tx.repo.materials[id] = m
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv StockMovement) error {
	tx.repo.movements = append(tx.repo.movements, mv)
	return nil
}

func (tx *memoryTx) InsertAlias(ctx context.Context, alias MaterialAlias) error {
	tx.repo.aliases = append(tx.repo.aliases, alias)
	return nil
}

func (tx *memoryTx) ReassignRequests(ctx context.Context, fromMaterialID, toMaterialID int64) (int64, error) {
	var moved int64
	for id, materialID := range tx.repo.requests {
		if materialID == fromMaterialID {
			tx.repo.requests[id] = toMaterialID
			moved++
		}
	}
	return moved, nil
}

func (tx *memoryTx) DeleteMaterial(ctx context.Context, id int64) error {
	if _, ok := tx.repo.materials[id]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.materials, id)
	return nil
}

func seed(repo *memoryRepo, m Material) Material {
	repo.nextID++
	m.ID = repo.nextID
	if m.NormalizedName == "" {
		m.NormalizedName = NormalizeName(m.Name)
	}
	repo.materials[m.ID] = m
	return m
}

func TestCreateMaterialRegistersCanonicalName(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	m, err := svc.CreateMaterial(ctx, CreateMaterialInput{Name: "  Cemento Gris ", Unit: "bulto", Category: "cemento", Stock: 5})
	require.NoError(t, err)
	require.Equal(t, "Cemento Gris", m.Name)
	require.Equal(t, "cemento gris", m.NormalizedName)
	require.Len(t, repo.movements, 1)
	require.Equal(t, int64(5), repo.movements[0].Balance)

	// a case/accent variant of an existing name is a duplicate
	_, err = svc.CreateMaterial(ctx, CreateMaterialInput{Name: "CEMENTO GRIS", Unit: "bulto"})
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = svc.CreateMaterial(ctx, CreateMaterialInput{Name: "cemento  grís", Unit: "bulto"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreateMaterialValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateMaterial(ctx, CreateMaterialInput{Name: "", Unit: "bulto"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateMaterial(ctx, CreateMaterialInput{Name: "Arena", Unit: "m3", Stock: -1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAdjustStockAtomicGuard(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	m := seed(repo, Material{Name: "Arena", Unit: "m3", Stock: 10})

	balance, err := svc.AdjustStock(ctx, m.ID, -4, 1, "dispensed")
	require.NoError(t, err)
	require.Equal(t, int64(6), balance)

	_, err = svc.AdjustStock(ctx, m.ID, -7, 1, "dispensed")
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(6), repo.materials[m.ID].Stock)

	_, err = svc.AdjustStock(ctx, m.ID, 0, 1, "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestArchiveMaterialRequiresEmptyStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	stocked := seed(repo, Material{Name: "Arena", Unit: "m3", Stock: 3})
	require.ErrorIs(t, svc.ArchiveMaterial(ctx, stocked.ID, 1), ErrStockNotEmpty)

	empty := seed(repo, Material{Name: "Grava", Unit: "m3"})
	require.NoError(t, svc.ArchiveMaterial(ctx, empty.ID, 1))
	require.True(t, repo.materials[empty.ID].Archived)

	require.ErrorIs(t, svc.ArchiveMaterial(ctx, empty.ID, 1), ErrArchived)
	_, err := svc.AdjustStock(ctx, empty.ID, 5, 1, "")
	require.ErrorIs(t, err, ErrArchived)
}

func TestMergeMaterialsFoldsDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	canonical := seed(repo, Material{Name: "Cemento Gris", Unit: "bulto", Stock: 10})
	duplicate := seed(repo, Material{Name: "CEMENTO GRIS 50KG", Unit: "bulto", Stock: 4})
	repo.requests[77] = duplicate.ID

	require.NoError(t, svc.MergeMaterials(ctx, duplicate.ID, canonical.ID, 1))

	require.Equal(t, int64(14), repo.materials[canonical.ID].Stock)
	require.NotContains(t, repo.materials, duplicate.ID)
	require.Equal(t, canonical.ID, repo.requests[77])

	// the duplicate's name keeps resolving to the canonical record
	got, err := svc.Suggest(ctx, "cemento gris 50kg")
	require.NoError(t, err)
	require.Equal(t, canonical.ID, got.ID)

	require.ErrorIs(t, svc.MergeMaterials(ctx, canonical.ID, canonical.ID, 1), ErrValidation)
}

func TestSuggestFoldsCaseAndAccents(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	m := seed(repo, Material{Name: "Varilla Corrugada 3/8", Unit: "pieza"})

	got, err := svc.Suggest(ctx, "  VARILLA   corrugáda 3/8 ")
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)

	_, err = svc.Suggest(ctx, "   ")
	require.ErrorIs(t, err, ErrValidation)
}
