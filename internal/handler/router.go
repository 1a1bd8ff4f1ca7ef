package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers 全部 REST 处理器
type Handlers struct {
	Chat          *ChatHandler
	Conversations *ConversationHandler
	Branches      *BranchHandler
	Messages      *MessageHandler
	Bookmarks     *BookmarkHandler
	Notes         *NotesHandler
}

// RegisterRoutes 注册 /api 下的所有路由
func RegisterRoutes(router gin.IRouter, h *Handlers) {
	api := router.Group("/api")

	api.POST("/chat", h.Chat.Chat)

	conversations := api.Group("/conversations")
	{
		conversations.GET("", h.Conversations.ListConversations)
		conversations.POST("", h.Conversations.CreateConversation)
		conversations.GET("/:id", h.Conversations.GetConversation)
		conversations.DELETE("/:id", h.Conversations.DeleteConversation)
		conversations.PATCH("/:id/title", h.Conversations.UpdateTitle)
		conversations.PATCH("/:id/learning-mode", h.Conversations.SetLearningMode)
		conversations.GET("/:id/messages", h.Conversations.ListMessages)
		conversations.GET("/:id/branches", h.Conversations.ListBranches)
		conversations.GET("/:id/branches/active", h.Conversations.GetActiveBranch)
		conversations.GET("/:id/bookmarks", h.Conversations.ListBookmarks)
		conversations.GET("/:id/thoughts", h.Conversations.ListThoughts)
		conversations.GET("/:id/ideas", h.Conversations.ListIdeas)
	}

	branches := api.Group("/branches")
	{
		branches.POST("", h.Branches.CreateBranch)
		branches.PATCH("/:id/name", h.Branches.RenameBranch)
		branches.POST("/:id/active", h.Branches.ActivateBranch)
		branches.DELETE("/:id", h.Branches.DeleteBranch)
	}

	messages := api.Group("/messages")
	{
		messages.GET("/:id/chain", h.Messages.GetChain)
		messages.PATCH("/:id/reasoning-steps", h.Messages.UpdateReasoningSteps)
		messages.GET("/:id/explanations", h.Messages.ListExplanations)
		messages.POST("/:id/explanations", h.Messages.CreateExplanation)
	}

	bookmarks := api.Group("/bookmarks")
	{
		bookmarks.POST("", h.Bookmarks.CreateBookmark)
		bookmarks.GET("", h.Bookmarks.ListBookmarks)
		bookmarks.GET("/:id", h.Bookmarks.GetBookmark)
		bookmarks.PATCH("/:id", h.Bookmarks.RenameBookmark)
		bookmarks.DELETE("/:id", h.Bookmarks.DeleteBookmark)
	}

	thoughts := api.Group("/thoughts")
	{
		thoughts.POST("", h.Notes.CreateThought)
		thoughts.GET("", h.Notes.ListThoughts)
		thoughts.GET("/:id", h.Notes.GetThought)
		thoughts.PATCH("/:id", h.Notes.UpdateThought)
		thoughts.DELETE("/:id", h.Notes.DeleteThought)
		thoughts.GET("/:id/related", h.Notes.RelatedThoughts)
	}

	ideas := api.Group("/ideas")
	{
		ideas.POST("", h.Notes.CreateIdea)
		ideas.GET("", h.Notes.ListIdeas)
		ideas.GET("/:id", h.Notes.GetIdea)
		ideas.PATCH("/:id", h.Notes.UpdateIdea)
		ideas.DELETE("/:id", h.Notes.DeleteIdea)
	}
}
