package models

import (
	"strconv"
	"time"
)

// Comment is one product review fetched from the comment endpoint.
type Comment struct {
	SKU           string
	ProductName   string
	Nickname      string
	Content       string
	Score         int
	CreationTime  string
	ReferenceTime string
	ProductColor  string
	ProductSize   string
	UserLevel     string
	Topped        bool
	ReplyCount    int
	UsefulVotes   int
	CollectedAt   time.Time
}

// CommentColumns is the fixed header order of the comment output file.
var CommentColumns = []string{
	"sku", "product_name", "nickname", "content", "score",
	"creation_time", "reference_time", "product_color", "product_size",
	"user_level", "topped", "reply_count", "useful_votes", "collected_at",
}

// Row renders the comment in CommentColumns order.
func (c *Comment) Row() []string {
	sku := c.SKU
	if sku != "" {
		sku = SKUGuardPrefix + sku
	}
	topped := "no"
	if c.Topped {
		topped = "yes"
	}
	return []string{
		sku,
		c.ProductName,
		c.Nickname,
		c.Content,
		strconv.Itoa(c.Score),
		c.CreationTime,
		c.ReferenceTime,
		c.ProductColor,
		c.ProductSize,
		c.UserLevel,
		topped,
		strconv.Itoa(c.ReplyCount),
		strconv.Itoa(c.UsefulVotes),
		c.CollectedAt.Format("2006-01-02 15:04:05"),
	}
}
