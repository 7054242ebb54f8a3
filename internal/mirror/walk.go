package mirror

import (
	"context"
	"fmt"
)

// Walk 深度优先遍历 folderID 下的所有条目，目录先于其子项。
// fn 返回错误时停止遍历。
func Walk(ctx context.Context, m Mirror, folderID string, fn func(parentID string, e Entry) error) error {
	entries, err := m.ListChildren(ctx, folderID)
	if err != nil {
		return fmt.Errorf("list %s: %w", folderID, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(folderID, e); err != nil {
			return err
		}
		if e.IsFolder {
			if err := Walk(ctx, m, e.ID, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// PublishReport 汇总一次 PublishAll 的结果。
type PublishReport struct {
	Published int
	Failed    map[string]error
}

// PublishAll 对 folderID 下每个文件授予公开读。单个文件失败时记录下来，
// 遍历继续。
func PublishAll(ctx context.Context, m Mirror, folderID string) (PublishReport, error) {
	report := PublishReport{Failed: map[string]error{}}
	err := Walk(ctx, m, folderID, func(_ string, e Entry) error {
		if e.IsFolder {
			return nil
		}
		if err := m.GrantPublicRead(ctx, e.ID); err != nil {
			report.Failed[e.ID] = err
			return nil
		}
		report.Published++
		return nil
	})
	return report, err
}
