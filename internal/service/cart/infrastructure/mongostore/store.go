// Package mongostore 是基于 MongoDB 多文档事务的实现，需要副本集
package mongostore

import (
	"context"
	"time"

	"nexus-cart/internal/service/cart/domain"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	cartsCollection    = "carts"
	productsCollection = "products"
)

// Store 实现 domain.Store
type Store struct {
	client   *mongo.Client
	carts    *mongo.Collection
	products *mongo.Collection
}

// Connect 连接并检查主节点可用
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo: ping")
	}
	zlog.Info().Str("database", database).Msg("✅ Connected to MongoDB")
	return New(client, database), nil
}

func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		carts:    db.Collection(cartsCollection),
		products: db.Collection(productsCollection),
	}
}

// EnsureIndexes 创建 expiresAt 上的 TTL 索引
// 回收任务按该索引扫描；TTL 删除只在宽限期后兜底，正常情况下回收任务早已归还库存
func (s *Store) EnsureIndexes(ctx context.Context, ttlGrace time.Duration) error {
	_, err := s.carts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().
			SetName("expiresAt_ttl").
			SetExpireAfterSeconds(int32(ttlGrace / time.Second)),
	})
	return errors.Wrap(err, "mongo: create cart indexes")
}

func txnOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
}

// RunInTx 手动管理事务而不使用 WithTransaction，重试策略由上层控制
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "mongo: start session")
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txnOptions()); err != nil {
			return err
		}
		if err := fn(sc, &unit{store: s}); err != nil {
			if abortErr := sess.AbortTransaction(context.WithoutCancel(sc)); abortErr != nil {
				zlog.Warn().Err(abortErr).Msg("mongo: abort transaction")
			}
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return classify(err)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classify 把驱动错误映射到领域错误，领域错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var se mongo.ServerError
	if errors.As(err, &se) &&
		(se.HasErrorLabel("TransientTransactionError") || se.HasErrorLabel("UnknownTransactionCommitResult")) {
		return errors.Wrap(domain.ErrTxAborted, err.Error())
	}
	// 同一用户并发创建购物车
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(domain.ErrTxAborted, err.Error())
	}
	return errors.Wrap(err, "mongo")
}

type unit struct {
	store *Store
}

func (u *unit) Carts() domain.CartRepository { return &cartRepo{coll: u.store.carts} }
func (u *unit) Ledger() domain.StockLedger   { return &ledger{coll: u.store.products} }

type cartRepo struct {
	coll *mongo.Collection
}

func (r *cartRepo) FindByOwner(ctx context.Context, owner string) (*domain.Cart, error) {
	var doc cartDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": owner}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *cartRepo) Save(ctx context.Context, cart *domain.Cart) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": cart.Owner}, toCartDocument(cart), options.Replace().SetUpsert(true))
	return err
}

func (r *cartRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Cart, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "expiresAt", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{"expiresAt": bson.M{"$lte": now}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []cartDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	carts := make([]*domain.Cart, 0, len(docs))
	for i := range docs {
		carts = append(carts, docs[i].toDomain())
	}
	return carts, nil
}

func (r *cartRepo) DeleteExpired(ctx context.Context, owners []string, now time.Time) (int64, error) {
	if len(owners) == 0 {
		return 0, nil
	}
	res, err := r.coll.DeleteMany(ctx, bson.M{
		"_id":       bson.M{"$in": owners},
		"expiresAt": bson.M{"$lte": now},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type ledger struct {
	coll *mongo.Collection
}

func (l *ledger) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDocument
	err := l.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// AdjustStock 使用带 $gte 条件的 $inc，单条原子更新
func (l *ledger) AdjustStock(ctx context.Context, id string, delta int64) error {
	res, err := l.coll.UpdateOne(ctx, stockFilter(id, delta), stockUpdate(delta))
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := l.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

// BulkAdjustStock 所有释放合并为一次 BulkWrite；扣减逐条执行以便区分失败原因
func (l *ledger) BulkAdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error {
	var models []mongo.WriteModel
	for _, a := range adjustments {
		switch {
		case a.Delta < 0:
			if err := l.AdjustStock(ctx, a.ProductID, a.Delta); err != nil {
				return errors.WithMessagef(err, "adjust %s by %d", a.ProductID, a.Delta)
			}
		case a.Delta > 0:
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(stockFilter(a.ProductID, a.Delta)).
				SetUpdate(stockUpdate(a.Delta)))
		}
	}
	if len(models) == 0 {
		return nil
	}
	_, err := l.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (l *ledger) SaveProduct(ctx context.Context, p *domain.Product) error {
	doc := productDocument{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		UpdatedAt:     p.UpdatedAt,
	}
	_, err := l.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func stockFilter(id string, delta int64) bson.M {
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter["stockQuantity"] = bson.M{"$gte": -delta}
	}
	return filter
}

func stockUpdate(delta int64) bson.M {
	return bson.M{
		"$inc":         bson.M{"stockQuantity": delta},
		"$currentDate": bson.M{"updatedAt": true},
	}
}
