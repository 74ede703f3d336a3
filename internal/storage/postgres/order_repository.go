package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const orderColumns = `
	id, organization_id, number, customer_id, customer_name, customer_email,
	billing_address, shipping_address, status, currency, shipping_cost, handling_fee,
	customer_notes, internal_notes, created_by, version, created_at, updated_at,
	confirmed_at, shipped_at, delivered_at`

type orderRepository struct {
	c conn
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository вне транзакции.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return store.Orders()
}

// rowScanner: общее у *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	billing, err := encodeAddress(order.BillingAddress)
	if err != nil {
		return err
	}
	shipping, err := encodeAddress(order.ShippingAddress)
	if err != nil {
		return err
	}

	return r.c.atomic(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		`,
			order.ID, order.OrganizationID, order.Number, order.CustomerID, order.CustomerName, order.CustomerEmail,
			billing, shipping, string(order.Status), order.Currency, order.ShippingCost, order.HandlingFee,
			order.CustomerNotes, order.InternalNotes, order.CreatedBy, order.Version, order.CreatedAt, order.UpdatedAt,
			nullTime(order.ConfirmedAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				if _, constraint := pgCode(err); constraint == "orders_org_number_key" {
					return domain.ErrDuplicateOrderNumber
				}
				return domain.ErrVersionConflict
			}
			return fmt.Errorf("insert order: %w", mapError(err))
		}
		return insertOrderItems(ctx, q, order)
	})
}

func insertOrderItems(ctx context.Context, q querier, order domain.Order) error {
	for pos, item := range order.Items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name, sku, quantity,
				unit_price, discount_percent, tax_percent, notes, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			item.ID, order.ID, pos, item.ProductID, item.ProductName, item.SKU, item.Quantity,
			item.UnitPrice, item.DiscountPercent, item.TaxPercent, item.Notes, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", mapError(err))
		}
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.c.q().QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return r.scanWithItems(ctx, row)
}

func (r *orderRepository) GetByNumber(ctx context.Context, organizationID, number string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.c.q().QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE organization_id = $1 AND number = $2`,
		organizationID, number)
	return r.scanWithItems(ctx, row)
}

func (r *orderRepository) scanWithItems(ctx context.Context, row rowScanner) (domain.Order, error) {
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", mapError(err))
	}
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if !filter.CreatedFrom.IsZero() {
		add("created_at >= $%d", filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		add("created_at <= $%d", filter.CreatedTo)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, number DESC"
	query += paginationClause(&args, filter.Offset, filter.Limit)

	rows, err := r.c.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", mapError(err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	// Позиции догружаются после закрытия курсора: внутри транзакции второй запрос на том же соединении невозможен.
	rows.Close()

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// Save применяет изменения с проверкой версии; позиции перезаписываются целиком.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	billing, err := encodeAddress(order.BillingAddress)
	if err != nil {
		return err
	}
	shipping, err := encodeAddress(order.ShippingAddress)
	if err != nil {
		return err
	}

	return r.c.atomic(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE orders
			SET customer_name = $1,
			    customer_email = $2,
			    billing_address = $3,
			    shipping_address = $4,
			    status = $5,
			    shipping_cost = $6,
			    handling_fee = $7,
			    customer_notes = $8,
			    internal_notes = $9,
			    updated_at = $10,
			    confirmed_at = $11,
			    shipped_at = $12,
			    delivered_at = $13,
			    version = version + 1
			WHERE id = $14
			  AND version = $15
		`,
			order.CustomerName, order.CustomerEmail, billing, shipping, string(order.Status),
			order.ShippingCost, order.HandlingFee, order.CustomerNotes, order.InternalNotes, order.UpdatedAt,
			nullTime(order.ConfirmedAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
			order.ID, order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", mapError(err))
		}
		if err := checkAffected(ctx, q, res, "orders", order.ID, domain.ErrOrderNotFound); err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("replace order items: %w", mapError(err))
		}
		return insertOrderItems(ctx, q, order)
	})
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.c.q().ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.c.q().QueryContext(ctx, `
		SELECT id, product_id, product_name, sku, quantity, unit_price,
		       discount_percent, tax_percent, notes, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", mapError(err))
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &item.SKU, &item.Quantity, &item.UnitPrice,
			&item.DiscountPercent, &item.TaxPercent, &item.Notes, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                             domain.Order
		status                            string
		billing, shipping                 []byte
		confirmedAt, shippedAt, delivered sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.OrganizationID, &order.Number, &order.CustomerID, &order.CustomerName, &order.CustomerEmail,
		&billing, &shipping, &status, &order.Currency, &order.ShippingCost, &order.HandlingFee,
		&order.CustomerNotes, &order.InternalNotes, &order.CreatedBy, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&confirmedAt, &shippedAt, &delivered,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Currency = strings.TrimSpace(order.Currency)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.ConfirmedAt = timeFromNull(confirmedAt)
	order.ShippedAt = timeFromNull(shippedAt)
	order.DeliveredAt = timeFromNull(delivered)

	var err error
	if order.BillingAddress, err = decodeAddress(billing); err != nil {
		return domain.Order{}, err
	}
	if order.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// checkAffected различает «строки нет» и «версия устарела», когда UPDATE ничего не изменил.
func checkAffected(ctx context.Context, q querier, res sql.Result, table, id string, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s exists: %w", table, mapError(err))
	}
	if !exists {
		return notFound
	}
	return domain.ErrVersionConflict
}

func paginationClause(args *[]any, offset, limit int) string {
	var clause string
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

func encodeAddress(a domain.Address) (any, error) {
	if a.IsZero() {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	return string(raw), nil
}

func decodeAddress(raw []byte) (domain.Address, error) {
	var a domain.Address
	if len(raw) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode address: %w", err)
	}
	return a, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
