package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	swapDir = "swap"
)

type swapRepository struct {
	store *badgerhold.Store
}

// NewSwapRepository opens the badger-backed swap store. An empty baseDir
// yields an in-memory store, used by tests.
func NewSwapRepository(baseDir string, logger badger.Logger) (domain.SwapRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, swapDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap store: %s", err)
	}
	return &swapRepository{store}, nil
}

func (r *swapRepository) Add(ctx context.Context, swap domain.Swap) error {
	data, err := toSwapData(swap)
	if err != nil {
		return err
	}
	if err := r.store.Insert(swap.ID, data); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("swap %s already exists", swap.ID)
		}
		return fmt.Errorf("failed to add swap: %w", err)
	}
	return nil
}

func (r *swapRepository) MarkCompleted(ctx context.Context, id string) error {
	var data swapData
	if err := r.store.Get(id, &data); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("swap %s: %w", id, domain.ErrSwapNotFound)
		}
		return fmt.Errorf("failed to get swap: %w", err)
	}
	if data.Completed {
		return nil
	}
	data.Completed = true
	if err := r.store.Update(id, data); err != nil {
		return fmt.Errorf("failed to mark swap %s completed: %w", id, err)
	}
	return nil
}

func (r *swapRepository) GetActive(ctx context.Context) ([]domain.Swap, error) {
	var dataList []swapData
	query := badgerhold.Where("Completed").Eq(false)
	if err := r.store.Find(&dataList, query); err != nil {
		return nil, fmt.Errorf("failed to get active swaps: %w", err)
	}

	swaps := make([]domain.Swap, 0, len(dataList))
	for _, data := range dataList {
		swap, err := data.toSwap()
		if err != nil {
			return nil, fmt.Errorf("failed to convert data to swap: %w", err)
		}
		swaps = append(swaps, swap)
	}
	return swaps, nil
}

func (r *swapRepository) GetByProviderID(ctx context.Context, providerID string) (*domain.Swap, error) {
	var dataList []swapData
	query := badgerhold.Where("ProviderID").Eq(providerID).Index("ProviderID")
	if err := r.store.Find(&dataList, query); err != nil {
		return nil, fmt.Errorf("failed to get swap by provider id: %w", err)
	}
	if len(dataList) == 0 {
		return nil, fmt.Errorf("swap with provider id %s: %w", providerID, domain.ErrSwapNotFound)
	}

	swap, err := dataList[0].toSwap()
	if err != nil {
		return nil, fmt.Errorf("failed to convert data to swap: %w", err)
	}
	return &swap, nil
}

func (r *swapRepository) GetByInvoice(ctx context.Context, invoice string) (*domain.Swap, error) {
	var dataList []swapData
	query := badgerhold.Where("Invoice").Eq(invoice).Index("Invoice")
	if err := r.store.Find(&dataList, query); err != nil {
		return nil, fmt.Errorf("failed to get swap by invoice: %w", err)
	}
	if len(dataList) == 0 {
		return nil, fmt.Errorf("swap with invoice %s: %w", invoice, domain.ErrSwapNotFound)
	}

	swap, err := dataList[0].toSwap()
	if err != nil {
		return nil, fmt.Errorf("failed to convert data to swap: %w", err)
	}
	return &swap, nil
}

func (r *swapRepository) Close() {
	// nolint:all
	r.store.Close()
}

// swapData flattens a domain swap for storage. Request and response are kept
// as tagged JSON envelopes so the concrete types survive the round trip;
// Invoice is denormalized out of them for lookups.
type swapData struct {
	ID              string
	WalletAccountID string
	ProviderID      string `badgerhold:"index"`
	Provider        domain.SwapProvider
	Type            domain.SwapType
	Invoice         string `badgerhold:"index"`
	Request         []byte
	Response        []byte
	Completed       bool
	CreatedAt       time.Time
}

func toSwapData(swap domain.Swap) (swapData, error) {
	request, err := domain.MarshalSwapRequest(swap.Request)
	if err != nil {
		return swapData{}, err
	}
	response, err := domain.MarshalSwapResponse(swap.Response)
	if err != nil {
		return swapData{}, err
	}

	return swapData{
		ID:              swap.ID,
		WalletAccountID: swap.WalletAccountID,
		ProviderID:      swap.ProviderID,
		Provider:        swap.Provider,
		Type:            swap.Type,
		Invoice:         swapInvoice(swap),
		Request:         request,
		Response:        response,
		Completed:       swap.Completed,
		CreatedAt:       swap.CreatedAt,
	}, nil
}

func (s *swapData) toSwap() (domain.Swap, error) {
	request, err := domain.UnmarshalSwapRequest(s.Request)
	if err != nil {
		return domain.Swap{}, err
	}
	response, err := domain.UnmarshalSwapResponse(s.Response)
	if err != nil {
		return domain.Swap{}, err
	}

	return domain.Swap{
		ID:              s.ID,
		WalletAccountID: s.WalletAccountID,
		ProviderID:      s.ProviderID,
		Provider:        s.Provider,
		Type:            s.Type,
		Request:         request,
		Response:        response,
		Completed:       s.Completed,
		CreatedAt:       s.CreatedAt,
	}, nil
}

// swapInvoice returns the Lightning invoice tied to a swap, when there is
// one: the invoice we pay for submarine swaps, the invoice the provider pays
// us for reverse swaps. Chain swaps have none.
func swapInvoice(swap domain.Swap) string {
	switch swap.Type {
	case domain.SwapTypeSubmarine:
		if req, ok := swap.Request.(domain.SubmarineRequest); ok {
			return req.Invoice
		}
	case domain.SwapTypeReverse:
		if resp, ok := swap.Response.(domain.ReverseResponse); ok {
			return resp.Invoice
		}
	}
	return ""
}
