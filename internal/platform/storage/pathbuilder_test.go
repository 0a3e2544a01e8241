package storage

import "testing"

func TestBuildObjectPathLayouts(t *testing.T) {
	tests := []struct {
		name    string
		purpose AssetPurpose
		params  PathParams
		want    string
	}{
		{
			name:    "menu photo",
			purpose: PurposeMenuPhoto,
			params: PathParams{
				ItemID:   "itm_matcha_latte",
				UploadID: "upload789",
				FileName: "hero.png",
			},
			want: "assets/menu/itm_matcha_latte/photos/upload789/hero.png",
		},
		{
			name:    "review photo",
			purpose: PurposeReviewPhoto,
			params: PathParams{
				ReviewID: "rev_0042",
				UploadID: "upload790",
				FileName: "latte-art.jpg",
			},
			want: "assets/reviews/rev_0042/photos/upload790/latte-art.jpg",
		},
		{
			name:    "receipt falls back to invoice number",
			purpose: PurposeReceipt,
			params: PathParams{
				OrderID:       "ord_900",
				InvoiceNumber: "RCPT-2025-001",
			},
			want: "assets/orders/ord_900/receipts/RCPT-2025-001.pdf",
		},
		{
			name:    "receipt prefers explicit file name",
			purpose: PurposeReceipt,
			params: PathParams{
				OrderID:       "ord_900",
				InvoiceNumber: "RCPT-2025-001",
				FileName:      "receipt.pdf",
			},
			want: "assets/orders/ord_900/receipts/receipt.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildObjectPath(tt.purpose, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBuildObjectPathRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		purpose AssetPurpose
		params  PathParams
	}{
		{
			name:    "traversal in item id",
			purpose: PurposeMenuPhoto,
			params:  PathParams{ItemID: "../bad", UploadID: "upload", FileName: "file.png"},
		},
		{
			name:    "separator in file name",
			purpose: PurposeMenuPhoto,
			params:  PathParams{ItemID: "itm_mocha", UploadID: "upload", FileName: "a/b.png"},
		},
		{
			name:    "missing order id",
			purpose: PurposeReceipt,
			params:  PathParams{InvoiceNumber: "RCPT-2025-002"},
		},
		{
			name:    "unknown purpose",
			purpose: AssetPurpose("loyalty-card"),
			params:  PathParams{FileName: "card.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildObjectPath(tt.purpose, tt.params); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestRegisterPathBuilderOverride(t *testing.T) {
	custom := AssetPurpose("export")
	RegisterPathBuilder(custom, func(params PathParams) (string, error) {
		return "exports/" + params.FileName, nil
	})
	t.Cleanup(func() { RegisterPathBuilder(custom, nil) })

	got, err := BuildObjectPath(custom, PathParams{FileName: "orders.csv"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "exports/orders.csv" {
		t.Fatalf("expected exports/orders.csv, got %s", got)
	}
}
