package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	appconfig "cascadeflow/config"
	liqchannel "cascadeflow/internal/channel/liq"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"
)

// LiquidationProcessor normalizes raw liquidation payloads into canonical
// events and feeds them to the cascade engine. One worker pool drains the
// raw channel; per-symbol serialization happens inside the engine.
type LiquidationProcessor struct {
	config   *appconfig.Config
	channels *liqchannel.Channels
	engine   *engine.Engine
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	symbols       map[string]struct{}
	filterSymbols bool

	archive        chan<- models.LiquidationEvent
	normalized     int64
	dropped        int64
	archiveDropped int64
}

// NewLiquidationProcessor builds the processor instance. When any source
// lists symbols, messages for other symbols are dropped before
// normalization.
func NewLiquidationProcessor(cfg *appconfig.Config, ch *liqchannel.Channels, eng *engine.Engine) *LiquidationProcessor {
	symSet := make(map[string]struct{})
	for exchange, src := range map[string]appconfig.ExchangeSourceConfig{
		"binance": cfg.Source.Binance,
		"bybit":   cfg.Source.Bybit,
		"okx":     cfg.Source.Okx,
		"kucoin":  cfg.Source.Kucoin,
	} {
		if !src.Enabled {
			continue
		}
		for _, s := range src.Symbols {
			symSet[symbols.ToCanonical(exchange, s)] = struct{}{}
		}
	}

	return &LiquidationProcessor{
		config:        cfg,
		channels:      ch,
		engine:        eng,
		wg:            &sync.WaitGroup{},
		log:           logger.GetLogger(),
		symbols:       symSet,
		filterSymbols: len(symSet) > 0,
	}
}

// Start begins consuming raw liquidation messages.
func (p *LiquidationProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("liquidation processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("liq_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting liquidation processor")

	workers := p.config.Processor.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop waits for workers to drain.
func (p *LiquidationProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("liq_processor").Info("stopping liquidation processor")
	p.wg.Wait()
	p.log.WithComponent("liq_processor").Info("liquidation processor stopped")
}

func (p *LiquidationProcessor) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *LiquidationProcessor) handleMessage(raw models.RawLiquidationMessage) {
	events, ok := Normalize(raw)
	if !ok {
		atomic.AddInt64(&p.dropped, 1)
		p.log.WithComponent("liq_processor").WithFields(logger.Fields{
			"exchange": raw.Exchange,
			"symbol":   raw.Symbol,
		}).Debug("unparseable liquidation payload, dropping message")
		return
	}

	for _, ev := range events {
		if p.filterSymbols {
			if _, ok := p.symbols[ev.Symbol]; !ok {
				continue
			}
		}

		atomic.AddInt64(&p.normalized, 1)
		p.engine.Submit(p.ctx, ev)

		if p.archive != nil {
			select {
			case p.archive <- *ev:
			default:
				atomic.AddInt64(&p.archiveDropped, 1)
			}
		}
	}
}

// SetArchive attaches a channel receiving a copy of every normalized event.
// Must be called before Start. The send never blocks; events are dropped
// when the archive buffer is full.
func (p *LiquidationProcessor) SetArchive(ch chan<- models.LiquidationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archive = ch
}

// Stats reports normalization counters.
func (p *LiquidationProcessor) Stats() (normalized, dropped int64) {
	return atomic.LoadInt64(&p.normalized), atomic.LoadInt64(&p.dropped)
}

// Normalize translates an exchange-native payload into canonical events.
// Most streams carry one liquidation per message; okx batches several
// orders into one push. The boolean is false when the payload cannot be
// parsed at all; invariant validation happens later in the engine.
func Normalize(raw models.RawLiquidationMessage) ([]*models.LiquidationEvent, bool) {
	switch raw.Exchange {
	case "binance":
		return singleEvent(normalizeBinanceLiq(raw))
	case "bybit":
		return singleEvent(normalizeBybitLiq(raw))
	case "kucoin":
		return singleEvent(normalizeKucoinLiq(raw))
	case "okx":
		return normalizeOkxLiq(raw)
	default:
		return nil, false
	}
}

func singleEvent(ev *models.LiquidationEvent, ok bool) ([]*models.LiquidationEvent, bool) {
	if !ok {
		return nil, false
	}
	return []*models.LiquidationEvent{ev}, true
}

// liquidatedSide maps the liquidation order side onto the side of the
// position that was force-closed: a forced SELL closes a LONG, a forced BUY
// closes a SHORT.
func liquidatedSide(orderSide string) models.Side {
	switch strings.ToUpper(orderSide) {
	case "SELL":
		return models.SideLong
	case "BUY":
		return models.SideShort
	default:
		return models.SideUnknown
	}
}

func normalizeBinanceLiq(raw models.RawLiquidationMessage) (*models.LiquidationEvent, bool) {
	type binanceOrder struct {
		EventTime int64 `json:"E"`
		Order     struct {
			Symbol    string `json:"s"`
			Side      string `json:"S"`
			OrderType string `json:"o"`
			Qty       string `json:"q"`
			Price     string `json:"p"`
		} `json:"o"`
	}
	var evt binanceOrder
	if err := json.Unmarshal(raw.Data, &evt); err != nil || evt.Order.Symbol == "" {
		return nil, false
	}
	price := parseFloat(evt.Order.Price)
	qty := parseFloat(evt.Order.Qty)
	eventTime := evt.EventTime
	if eventTime == 0 {
		eventTime = raw.Timestamp.UnixMilli()
	}
	return &models.LiquidationEvent{
		Symbol:    symbols.ToCanonical(raw.Exchange, evt.Order.Symbol),
		Exchange:  raw.Exchange,
		Side:      liquidatedSide(evt.Order.Side),
		Price:     price,
		Quantity:  qty,
		Value:     price * qty,
		Timestamp: eventTime,
	}, true
}

func normalizeBybitLiq(raw models.RawLiquidationMessage) (*models.LiquidationEvent, bool) {
	type bybitData struct {
		Topic string `json:"topic"`
		Ts    int64  `json:"ts"`
		Data  struct {
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			Size      string `json:"size"`
			Price     string `json:"price"`
			ExecQty   string `json:"execQty"`
			ExecPrice string `json:"execPrice"`
		} `json:"data"`
	}
	var evt bybitData
	if err := json.Unmarshal(raw.Data, &evt); err != nil || evt.Data.Symbol == "" {
		return nil, false
	}
	price := parseFloat(evt.Data.ExecPrice)
	if price == 0 {
		price = parseFloat(evt.Data.Price)
	}
	qty := parseFloat(evt.Data.ExecQty)
	if qty == 0 {
		qty = parseFloat(evt.Data.Size)
	}
	eventTime := evt.Ts
	if eventTime == 0 {
		eventTime = raw.Timestamp.UnixMilli()
	}
	// Bybit reports the side of the liquidation order, same convention as
	// the binance stream.
	return &models.LiquidationEvent{
		Symbol:    symbols.ToCanonical(raw.Exchange, evt.Data.Symbol),
		Exchange:  raw.Exchange,
		Side:      liquidatedSide(evt.Data.Side),
		Price:     price,
		Quantity:  qty,
		Value:     price * qty,
		Timestamp: eventTime,
	}, true
}

func normalizeKucoinLiq(raw models.RawLiquidationMessage) (*models.LiquidationEvent, bool) {
	type kucoinPayload struct {
		Data struct {
			Symbol string `json:"symbol"`
			Side   string `json:"side"`
			Size   int32  `json:"size"`
			Price  string `json:"price"`
			Ts     int64  `json:"ts"`
		} `json:"data"`
	}
	var evt kucoinPayload
	if err := json.Unmarshal(raw.Data, &evt); err != nil || evt.Data.Symbol == "" {
		return nil, false
	}
	price := parseFloat(evt.Data.Price)
	qty := float64(evt.Data.Size)
	eventTime := evt.Data.Ts
	if eventTime == 0 {
		eventTime = raw.Timestamp.UnixMilli()
	}
	return &models.LiquidationEvent{
		Symbol:    symbols.ToCanonical(raw.Exchange, evt.Data.Symbol),
		Exchange:  raw.Exchange,
		Side:      liquidatedSide(evt.Data.Side),
		Price:     price,
		Quantity:  qty,
		Value:     price * qty,
		Timestamp: eventTime,
	}, true
}

// The okx v5 liquidation-orders push groups orders per instrument: data is
// an array of instruments, each carrying a details array with the actual
// liquidations priced at the bankruptcy price.
func normalizeOkxLiq(raw models.RawLiquidationMessage) ([]*models.LiquidationEvent, bool) {
	type okxPayload struct {
		Data []struct {
			InstID  string `json:"instId"`
			Details []struct {
				Side  string `json:"side"`
				Size  string `json:"sz"`
				Price string `json:"bkPx"`
				Ts    string `json:"ts"`
			} `json:"details"`
		} `json:"data"`
	}
	var evt okxPayload
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}
	var events []*models.LiquidationEvent
	for _, inst := range evt.Data {
		if inst.InstID == "" {
			continue
		}
		symbol := symbols.ToCanonical(raw.Exchange, inst.InstID)
		for _, d := range inst.Details {
			price := parseFloat(d.Price)
			qty := parseFloat(d.Size)
			eventTime := parseInt64(d.Ts)
			if eventTime == 0 {
				eventTime = raw.Timestamp.UnixMilli()
			}
			events = append(events, &models.LiquidationEvent{
				Symbol:    symbol,
				Exchange:  raw.Exchange,
				Side:      liquidatedSide(d.Side),
				Price:     price,
				Quantity:  qty,
				Value:     price * qty,
				Timestamp: eventTime,
			})
		}
	}
	if len(events) == 0 {
		return nil, false
	}
	return events, true
}

func parseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return val
}

func parseInt64(v string) int64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return val
}
