package orders

// DemoCatalog seeds empty stores. Product 5 has a single unit.
func DemoCatalog() []Product {
	return []Product{
		{ID: 1, Name: "Laptop Pro", Price: MustMoney("999.99"), Stock: 50},
		{ID: 2, Name: "Wireless Mouse", Price: MustMoney("29.99"), Stock: 200},
		{ID: 3, Name: "USB-C Hub", Price: MustMoney("49.99"), Stock: 100},
		{ID: 4, Name: "Mechanical Keyboard", Price: MustMoney("149.99"), Stock: 75},
		{ID: 5, Name: "Limited Edition Headphones", Price: MustMoney("299.99"), Stock: 1},
	}
}
