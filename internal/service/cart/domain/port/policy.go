package port

import "context"

// AdmissionRequest 描述一次将要增加预留的请求
type AdmissionRequest struct {
	UserID    string
	ProductID string
	Quantity  int64 // 变更后该行的数量
	Stock     int64 // 变更前目录的可用库存
	Lines     int   // 变更后购物车的行数
}

// AdmissionPolicy 判断是否允许该次预留，拒绝时返回校验错误
type AdmissionPolicy interface {
	Admit(ctx context.Context, req AdmissionRequest) error
}
