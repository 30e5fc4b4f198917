package contract

import (
	"context"
	"io"
)

// Reader: 源树遍历抽象。
// 约束：
// 1) 按稳定顺序逐文件回调，FileID 为相对 root 的规范化路径；
// 2) 不做净化/解析，仅提供字节流；回调返回后由 Reader 负责关闭；
// 3) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, root string, yield func(id FileID, r io.Reader) error) error
}
