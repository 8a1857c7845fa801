package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/AmbossTech/banco-swaps/internal/core/ports"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	log "github.com/sirupsen/logrus"
)

// ClaimEngine signs and (where applicable) broadcasts claim transactions for
// one chain. Implementations exist for Bitcoin and Liquid.
type ClaimEngine interface {
	ClaimSubmarine(ctx context.Context, swap *domain.Swap) error
	ClaimReverse(ctx context.Context, swap *domain.Swap) error
	ClaimChain(ctx context.Context, swap *domain.Swap) error
}

type ServiceConfig struct {
	// WalletChain is the chain the wallet holds funds on, the to-leg of
	// reverse swaps and the from-leg of submarine swaps.
	WalletChain boltz.Currency
	// EnableWebsocket turns the status subscription on at boot.
	EnableWebsocket bool
	LimitsTTL       time.Duration
}

// SwapService is the swap request builder and the owner of the status
// subscription. All provider mutations go through it.
type SwapService struct {
	repo        domain.SwapRepository
	api         *boltz.Api
	ws          *boltz.Websocket
	limits      *limitsCache
	lock        ports.SwapLock
	notifier    ports.Notifier
	covenantSvc ports.CovenantClient
	scheduler   ports.SchedulerService
	engines     map[boltz.Currency]ClaimEngine

	walletChain boltz.Currency
	enableWS    bool
}

func NewSwapService(
	repo domain.SwapRepository,
	api *boltz.Api,
	lock ports.SwapLock,
	notifier ports.Notifier,
	covenantSvc ports.CovenantClient,
	scheduler ports.SchedulerService,
	engines map[boltz.Currency]ClaimEngine,
	cfg ServiceConfig,
) *SwapService {
	svc := &SwapService{
		repo:        repo,
		api:         api,
		limits:      newLimitsCache(api, cfg.LimitsTTL),
		lock:        lock,
		notifier:    notifier,
		covenantSvc: covenantSvc,
		scheduler:   scheduler,
		engines:     engines,
		walletChain: cfg.WalletChain,
		enableWS:    cfg.EnableWebsocket,
	}
	svc.ws = api.NewWebsocket(svc.HandleSwapUpdate)
	return svc
}

// Start refreshes the limits cache on a timer and, when enabled, connects the
// status subscription and re-subscribes every pending swap.
func (s *SwapService) Start(ctx context.Context) error {
	s.scheduler.Start()
	err := s.scheduler.ScheduleRecurring(s.limits.ttl, func() {
		if err := s.limits.Refresh(); err != nil {
			log.WithError(err).Warn("failed to refresh swap limits")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule limits refresh: %w", err)
	}

	if !s.enableWS {
		log.Info("swap status subscription disabled by config")
		return nil
	}

	swaps, err := s.repo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("load pending swaps: %w", err)
	}
	ids := make([]string, 0, len(swaps))
	for _, swap := range swaps {
		if swap.Provider == domain.SwapProviderBoltz {
			ids = append(ids, swap.ProviderID)
		}
	}
	if err := s.ws.Subscribe(ids); err != nil {
		return fmt.Errorf("track pending swaps: %w", err)
	}

	s.ws.Start(ctx)
	log.Infof("swap service started, %d pending swaps tracked", len(ids))
	return nil
}

func (s *SwapService) Stop() {
	if s.enableWS {
		s.ws.Stop()
	}
	s.scheduler.Stop()
	s.repo.Close()
	log.Info("swap service stopped")
}

// CreateSubmarineSwap builds a submarine swap paying the given Lightning
// invoice from on-chain funds.
func (s *SwapService) CreateSubmarineSwap(
	ctx context.Context, accountID, invoice string,
) (*domain.Swap, error) {
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	amount, err := invoiceAmountSats(bolt11)
	if err != nil {
		return nil, err
	}

	if err := s.limits.CheckLimits(
		domain.SwapTypeSubmarine, s.walletChain, boltz.CurrencyBtc, amount,
	); err != nil {
		return nil, err
	}

	refundKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate refund key: %w", err)
	}

	request := boltz.CreateSubmarineRequest{
		From:            s.walletChain,
		To:              boltz.CurrencyBtc,
		Invoice:         invoice,
		RefundPublicKey: hex.EncodeToString(refundKey.PubKey().SerializeCompressed()),
	}
	resp, err := s.api.CreateSubmarineSwap(request)
	if err != nil {
		return nil, fmt.Errorf("create submarine swap: %w", err)
	}

	swap, err := domain.NewSwap(accountID, resp.ID,
		domain.SubmarineRequest{
			CreateSubmarineRequest: request,
			RefundPrivateKey:       hex.EncodeToString(refundKey.Serialize()),
			PaymentHash:            bolt11.PaymentHash,
		},
		domain.SubmarineResponse{CreateSubmarineResponse: *resp},
	)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, *swap); err != nil {
		return nil, fmt.Errorf("persist submarine swap: %w", err)
	}
	if err := s.ws.Subscribe([]string{resp.ID}); err != nil {
		log.WithError(err).Warnf("failed to subscribe swap %s", resp.ID)
	}

	log.Infof("created submarine swap %s for %d sats", swap.ID, amount)
	return swap, nil
}

type ReverseOptions struct {
	// DestinationAddress receives the claimed on-chain funds.
	DestinationAddress string
	// BlindingKey is the hex private key able to unblind the confidential
	// destination output, Liquid only.
	BlindingKey string
	Description string
	// Covenant delegates claiming to the external covenant service; such
	// swaps never go through the local signing engine.
	Covenant bool
}

// CreateReverseSwap builds a reverse swap receiving amount sats from
// Lightning into an on-chain address.
func (s *SwapService) CreateReverseSwap(
	ctx context.Context, accountID string, amount uint64, opts ReverseOptions,
) (*domain.Swap, error) {
	if opts.DestinationAddress == "" {
		return nil, fmt.Errorf("missing destination address")
	}

	if err := s.limits.CheckLimits(
		domain.SwapTypeReverse, boltz.CurrencyBtc, s.walletChain, amount,
	); err != nil {
		return nil, err
	}

	claimKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate claim key: %w", err)
	}
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("generate preimage: %w", err)
	}
	preimageHash := sha256.Sum256(preimage)

	// Signing the destination lets the provider embed the magic routing hint
	// in the generated invoice, so payers holding funds with the same
	// provider can settle directly on chain.
	addressHash := sha256.Sum256([]byte(opts.DestinationAddress))
	addressSig, err := schnorr.Sign(claimKey, addressHash[:])
	if err != nil {
		return nil, fmt.Errorf("sign destination address: %w", err)
	}

	request := boltz.CreateReverseRequest{
		From:             boltz.CurrencyBtc,
		To:               s.walletChain,
		InvoiceAmount:    amount,
		PreimageHash:     hex.EncodeToString(preimageHash[:]),
		ClaimPublicKey:   hex.EncodeToString(claimKey.PubKey().SerializeCompressed()),
		Description:      opts.Description,
		Address:          opts.DestinationAddress,
		AddressSignature: hex.EncodeToString(addressSig.Serialize()),
		ClaimCovenant:    opts.Covenant,
	}
	resp, err := s.api.CreateReverseSwap(request)
	if err != nil {
		return nil, fmt.Errorf("create reverse swap: %w", err)
	}

	// The invoice must commit to our preimage, otherwise settling it would
	// not unlock the on-chain leg for us.
	bolt11, err := decodepay.Decodepay(resp.Invoice)
	if err != nil {
		return nil, fmt.Errorf("decode swap invoice: %w", err)
	}
	if !strings.EqualFold(bolt11.PaymentHash, hex.EncodeToString(preimageHash[:])) {
		return nil, fmt.Errorf(
			"swap %s invoice payment hash does not match our preimage", resp.ID,
		)
	}

	swap, err := domain.NewSwap(accountID, resp.ID,
		domain.ReverseRequest{
			CreateReverseRequest: request,
			ClaimPrivateKey:      hex.EncodeToString(claimKey.Serialize()),
			Preimage:             hex.EncodeToString(preimage),
			DestinationAddress:   opts.DestinationAddress,
			BlindingPrivateKey:   opts.BlindingKey,
			Covenant:             opts.Covenant,
		},
		domain.ReverseResponse{CreateReverseResponse: *resp},
	)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, *swap); err != nil {
		return nil, fmt.Errorf("persist reverse swap: %w", err)
	}

	if opts.Covenant {
		claim := ports.CovenantClaim{
			SwapID:             resp.ID,
			Address:            opts.DestinationAddress,
			Preimage:           hex.EncodeToString(preimage),
			ClaimPublicKey:     request.ClaimPublicKey,
			RefundPublicKey:    resp.RefundPublicKey,
			BlindingKey:        resp.BlindingKey,
			ClaimLeaf:          resp.SwapTree.ClaimLeaf.Output,
			RefundLeaf:         resp.SwapTree.RefundLeaf.Output,
			TimeoutBlockHeight: resp.TimeoutBlockHeight,
		}
		if err := s.covenantSvc.RegisterClaim(ctx, claim); err != nil {
			return nil, fmt.Errorf("register covenant claim for swap %s: %w", resp.ID, err)
		}
	}

	if err := s.ws.Subscribe([]string{resp.ID}); err != nil {
		log.WithError(err).Warnf("failed to subscribe swap %s", resp.ID)
	}

	log.Infof("created reverse swap %s for %d sats (covenant=%t)", swap.ID, amount, opts.Covenant)
	return swap, nil
}

// CreateChainSwap builds a chain swap moving amount sats between the two
// chains, claiming to destinationAddress on the to-chain.
func (s *SwapService) CreateChainSwap(
	ctx context.Context, accountID string,
	from, to boltz.Currency, amount uint64, destinationAddress string,
) (*domain.Swap, error) {
	if destinationAddress == "" {
		return nil, fmt.Errorf("missing destination address")
	}

	if err := s.limits.CheckLimits(domain.SwapTypeChain, from, to, amount); err != nil {
		return nil, err
	}

	claimKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate claim key: %w", err)
	}
	refundKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate refund key: %w", err)
	}
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("generate preimage: %w", err)
	}
	preimageHash := sha256.Sum256(preimage)

	request := boltz.CreateChainRequest{
		From:            from,
		To:              to,
		PreimageHash:    hex.EncodeToString(preimageHash[:]),
		ClaimPublicKey:  hex.EncodeToString(claimKey.PubKey().SerializeCompressed()),
		RefundPublicKey: hex.EncodeToString(refundKey.PubKey().SerializeCompressed()),
		UserLockAmount:  amount,
	}
	resp, err := s.api.CreateChainSwap(request)
	if err != nil {
		return nil, fmt.Errorf("create chain swap: %w", err)
	}

	swap, err := domain.NewSwap(accountID, resp.ID,
		domain.ChainRequest{
			CreateChainRequest: request,
			ClaimPrivateKey:    hex.EncodeToString(claimKey.Serialize()),
			RefundPrivateKey:   hex.EncodeToString(refundKey.Serialize()),
			Preimage:           hex.EncodeToString(preimage),
			DestinationAddress: destinationAddress,
		},
		domain.ChainResponse{ChainSwapData: *resp},
	)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, *swap); err != nil {
		return nil, fmt.Errorf("persist chain swap: %w", err)
	}
	if err := s.ws.Subscribe([]string{resp.ID}); err != nil {
		log.WithError(err).Warnf("failed to subscribe swap %s", resp.ID)
	}

	log.Infof("created chain swap %s %s -> %s for %d sats", swap.ID, from, to, amount)
	return swap, nil
}

func invoiceAmountSats(bolt11 decodepay.Bolt11) (uint64, error) {
	if bolt11.MSatoshi <= 0 {
		return 0, fmt.Errorf("invoice has no amount")
	}
	return uint64(bolt11.MSatoshi / 1000), nil
}
