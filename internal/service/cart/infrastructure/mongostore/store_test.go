package mongostore

import (
	"testing"

	"nexus-cart/internal/service/cart/domain"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"transient", mongo.CommandError{Code: 112, Name: "WriteConflict", Labels: []string{"TransientTransactionError"}}, domain.KindTxAborted},
		{"unknown commit", mongo.CommandError{Code: 50, Labels: []string{"UnknownTransactionCommitResult"}}, domain.KindTxAborted},
		{"duplicate", mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}, domain.KindTxAborted},
		{"domain passthrough", errors.WithMessage(domain.ErrInsufficientStock, "p1"), domain.KindInsufficientStock},
		{"other", mongo.CommandError{Code: 13, Name: "Unauthorized"}, domain.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.KindOf(classify(tt.err)); got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestStockFilterGuardsReservations(t *testing.T) {
	reserve := stockFilter("p1", -3)
	if reserve["stockQuantity"].(bson.M)["$gte"] != int64(3) {
		t.Fatalf("reserve filter = %v", reserve)
	}
	if _, ok := stockFilter("p1", 2)["stockQuantity"]; ok {
		t.Fatal("releases are unconditional")
	}
}

func TestCartDocumentMapping(t *testing.T) {
	c := &domain.Cart{Owner: "u1", Items: []domain.CartItem{{ProductID: "p1", UnitPrice: 100, Quantity: 2}}, TotalPrice: 200}
	doc := toCartDocument(c)
	if doc.Owner != "u1" || len(doc.Items) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
	back := doc.toDomain()
	if back.Items[0] != c.Items[0] || back.TotalPrice != 200 {
		t.Fatalf("back = %+v", back)
	}
}
