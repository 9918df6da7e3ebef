// Package ledger — service.go: подгрузка страниц, поиск по загруженному и выгрузка в CSV.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/common"
)

// PageSource: постраничное чтение журнала.
type PageSource interface {
	Page(ctx context.Context, q Query, after *Cursor, limit int) (Page, error)
}

// Service открывает историю операций аккаунта.
type Service struct {
	source   PageSource
	pageSize int
	loc      *time.Location
}

// NewService создаёт сервис журнала. pageSize <= 0: DefaultPageSize.
func NewService(source PageSource, pageSize int, loc *time.Location) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{source: source, pageSize: pageSize, loc: loc}
}

// Open создаёт пустую историю для запроса q. Страницы грузятся через LoadMore.
func (s *Service) Open(q Query) *History {
	return &History{source: s.source, query: q, pageSize: s.pageSize, loc: s.loc}
}

// Page возвращает одну страницу журнала после курсора token из Cursor.Encode.
// Пустой token: с самой новой записи.
func (s *Service) Page(ctx context.Context, q Query, token string) (Page, error) {
	var after *Cursor
	if token != "" {
		c, err := DecodeCursor(token)
		if err != nil {
			return Page{}, err
		}
		after = c
	}
	return s.source.Page(ctx, q, after, s.pageSize)
}

// Export подгружает до maxPages страниц, применяет текстовый фильтр к загруженному
// и пишет результат в CSV. Возвращает число выгруженных записей.
func (s *Service) Export(ctx context.Context, q Query, text string, maxPages int, w io.Writer) (int, error) {
	h := s.Open(q)
	for i := 0; i < maxPages && !h.Done(); i++ {
		if _, err := h.LoadMore(ctx); err != nil {
			return 0, err
		}
	}
	items := h.Filter(text)
	if err := WriteCSV(w, items, s.loc); err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"user_id": q.UserID,
		"pages":   h.Pages(),
		"rows":    len(items),
	}).Info("Журнал выгружен в CSV")
	return len(items), nil
}

// History: уже загруженная часть журнала аккаунта.
// Поиск и выгрузка работают только по загруженным страницам, а не по всей истории.
type History struct {
	source   PageSource
	query    Query
	pageSize int
	loc      *time.Location

	items []Transaction
	next  *Cursor
	pages int
	done  bool
}

// LoadMore подгружает следующую страницу. Возвращает число новых записей.
func (h *History) LoadMore(ctx context.Context) (int, error) {
	if h.done {
		return 0, nil
	}
	page, err := h.source.Page(ctx, h.query, h.next, h.pageSize)
	if err != nil {
		return 0, err
	}
	h.items = append(h.items, page.Items...)
	h.next = page.Next
	h.pages++
	h.done = page.Next == nil
	return len(page.Items), nil
}

// Done: вся история загружена.
func (h *History) Done() bool { return h.done }

// Pages: сколько страниц загружено.
func (h *History) Pages() int { return h.pages }

// Items возвращает загруженные записи, новые первыми.
func (h *History) Items() []Transaction { return h.items }

// Filter ищет text (без учёта регистра) в типе, заметке, сумме, дате и id загруженных записей.
// Пустой text возвращает всё загруженное.
func (h *History) Filter(text string) []Transaction {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return h.items
	}
	var out []Transaction
	for _, tx := range h.items {
		if strings.Contains(searchText(tx, h.loc), needle) {
			out = append(out, tx)
		}
	}
	return out
}

func searchText(tx Transaction, loc *time.Location) string {
	parts := []string{
		tx.ID.String(),
		tx.Type,
		tx.Note,
		tx.Amount.StringFixed(2),
		tx.PostedAt.In(loc).Format("2006-01-02 15:04"),
		common.FormatDateTime(tx.PostedAt, loc),
	}
	if tx.ForDate != nil {
		parts = append(parts, tx.ForDate.Format("2006-01-02"), common.FormatDate(*tx.ForDate))
	}
	return strings.ToLower(strings.Join(parts, " "))
}

var csvHeader = []string{"id", "posted_at", "type", "amount", "roi_portion", "level_portion", "for_date", "note"}

// WriteCSV пишет записи в CSV с заголовком.
func WriteCSV(w io.Writer, items []Transaction, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	for _, tx := range items {
		forDate := ""
		if tx.ForDate != nil {
			forDate = tx.ForDate.Format("2006-01-02")
		}
		rec := []string{
			tx.ID.String(),
			tx.PostedAt.In(loc).Format(time.RFC3339),
			tx.Type,
			tx.Amount.StringFixed(2),
			tx.ROIPortion.StringFixed(2),
			tx.LevelPortion.StringFixed(2),
			forDate,
			tx.Note,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("ошибка записи CSV: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	return nil
}

// ParseQuery собирает Query из строковых параметров выгрузки.
// from и to: даты "2006-01-02" в поясе loc, to включительно; types: через запятую.
func ParseQuery(userID int64, from, to, types string, loc *time.Location) (Query, error) {
	if loc == nil {
		loc = time.UTC
	}
	q := Query{UserID: userID}
	if from != "" {
		d, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return Query{}, fmt.Errorf("некорректная дата from %q: %w", from, err)
		}
		q.From = &d
	}
	if to != "" {
		d, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return Query{}, fmt.Errorf("некорректная дата to %q: %w", to, err)
		}
		end := d.AddDate(0, 0, 1)
		q.To = &end
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return Query{}, fmt.Errorf("from должен быть не позже to")
	}
	for _, t := range strings.Split(types, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		switch t {
		case TypeDailyIncome, TypeDeposit, TypeWithdrawal:
			q.Types = append(q.Types, t)
		default:
			return Query{}, fmt.Errorf("неизвестный тип операции %q", t)
		}
	}
	return q, nil
}
