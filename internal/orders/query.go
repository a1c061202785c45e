package orders

import "context"

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.Orders.FindByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, q ListQuery) (OrderPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return OrderPage{}, err
	}
	list, err := s.Orders.FindByUser(ctx, q)
	if err != nil {
		return OrderPage{}, err
	}
	total, err := s.Orders.CountByUser(ctx, q.UserID, q.Status)
	if err != nil {
		return OrderPage{}, err
	}
	return OrderPage{Orders: list, Page: q.Page, PerPage: q.PerPage, Total: total}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Products.ListAll(ctx)
}
