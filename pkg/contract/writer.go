package contract

import (
	"context"
	"io"
)

// Writer: 将字节流持久化到以 id 命名的目标（相对输出根目录）。
// 约束：
//  1. 同一 id 单写者；
//  2. 读者要么看到旧内容，要么看到完整新内容（原子替换由实现保证）；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id string, r io.Reader) error
}
