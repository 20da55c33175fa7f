package conversation_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/adcraftco/relay/pkg/conversation"
)

// Both backends must satisfy the same Store contract.
func describeStore(name string, newStore func() conversation.Store) bool {
	return Describe(name, func() {
		var (
			store conversation.Store
			ctx   context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = newStore()
		})

		AfterEach(func() {
			Expect(store.Close()).To(Succeed())
		})

		Describe("EnsureHandle", func() {
			It("creates a handle with no upstream id", func() {
				h, err := store.EnsureHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(h.LocalID).To(Equal("c1"))
				Expect(h.UpstreamID).To(BeNil())
			})

			It("is idempotent", func() {
				first, err := store.EnsureHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())

				_, err = store.SetUpstreamID(ctx, "c1", "up-1")
				Expect(err).NotTo(HaveOccurred())

				again, err := store.EnsureHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(again.CreatedAt).To(Equal(first.CreatedAt))
				Expect(again.UpstreamID).NotTo(BeNil())
				Expect(*again.UpstreamID).To(Equal("up-1"))
			})
		})

		Describe("GetHandle", func() {
			It("returns ErrNotFound for unknown ids", func() {
				_, err := store.GetHandle(ctx, "missing")
				Expect(err).To(MatchError(conversation.ErrNotFound{LocalID: "missing"}))
			})
		})

		Describe("SetUpstreamID", func() {
			BeforeEach(func() {
				_, err := store.EnsureHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
			})

			It("assigns when absent", func() {
				assigned, err := store.SetUpstreamID(ctx, "c1", "up-a")
				Expect(err).NotTo(HaveOccurred())
				Expect(assigned).To(BeTrue())

				h, err := store.GetHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(*h.UpstreamID).To(Equal("up-a"))
			})

			It("keeps the first writer's value", func() {
				_, err := store.SetUpstreamID(ctx, "c1", "up-a")
				Expect(err).NotTo(HaveOccurred())

				assigned, err := store.SetUpstreamID(ctx, "c1", "up-b")
				Expect(err).NotTo(HaveOccurred())
				Expect(assigned).To(BeFalse())

				h, err := store.GetHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(*h.UpstreamID).To(Equal("up-a"))
			})

			It("treats a repeat of the same value as success", func() {
				_, err := store.SetUpstreamID(ctx, "c1", "up-a")
				Expect(err).NotTo(HaveOccurred())

				assigned, err := store.SetUpstreamID(ctx, "c1", "up-a")
				Expect(err).NotTo(HaveOccurred())
				Expect(assigned).To(BeTrue())
			})

			It("returns ErrNotFound for unknown handles", func() {
				_, err := store.SetUpstreamID(ctx, "missing", "up-a")
				Expect(err).To(MatchError(conversation.ErrNotFound{LocalID: "missing"}))
			})
		})

		Describe("ClearUpstreamID", func() {
			It("clears only the linkage, keeping the handle", func() {
				_, err := store.EnsureHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				_, err = store.SetUpstreamID(ctx, "c1", "up-a")
				Expect(err).NotTo(HaveOccurred())

				Expect(store.ClearUpstreamID(ctx, "c1")).To(Succeed())

				h, err := store.GetHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(h.UpstreamID).To(BeNil())

				// A fresh id can be assigned after the clear.
				assigned, err := store.SetUpstreamID(ctx, "c1", "up-b")
				Expect(err).NotTo(HaveOccurred())
				Expect(assigned).To(BeTrue())
			})
		})

		Describe("messages", func() {
			It("appends and lists in order", func() {
				_, err := store.EnsureHandle(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())

				u := &conversation.Message{LocalID: "c1", Role: conversation.RoleUser, Content: "hello"}
				a := &conversation.Message{
					LocalID: "c1", Role: conversation.RoleAssistant, Content: "hi",
					PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5,
				}
				Expect(store.AppendMessage(ctx, u)).To(Succeed())
				Expect(store.AppendMessage(ctx, a)).To(Succeed())
				Expect(u.ID).NotTo(BeZero())
				Expect(a.ID).To(BeNumerically(">", u.ID))

				msgs, err := store.ListMessages(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(msgs).To(HaveLen(2))
				Expect(msgs[0].Role).To(Equal(conversation.RoleUser))
				Expect(msgs[0].Content).To(Equal("hello"))
				Expect(msgs[1].Role).To(Equal(conversation.RoleAssistant))
				Expect(msgs[1].TotalTokens).To(Equal(int64(5)))
			})

			It("keeps histories of different conversations apart", func() {
				Expect(store.AppendMessage(ctx, &conversation.Message{
					LocalID: "c1", Role: conversation.RoleUser, Content: "one",
				})).To(Succeed())
				Expect(store.AppendMessage(ctx, &conversation.Message{
					LocalID: "c2", Role: conversation.RoleUser, Content: "two",
				})).To(Succeed())

				msgs, err := store.ListMessages(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(msgs).To(HaveLen(1))
				Expect(msgs[0].Content).To(Equal("one"))
			})
		})

		Describe("credit ledger", func() {
			It("sums deltas per user", func() {
				Expect(store.AddLedgerEntry(ctx, &conversation.LedgerEntry{User: "u1", Delta: 10, Reason: "grant"})).To(Succeed())
				Expect(store.AddLedgerEntry(ctx, &conversation.LedgerEntry{User: "u1", Delta: -1, Reason: "turn"})).To(Succeed())
				Expect(store.AddLedgerEntry(ctx, &conversation.LedgerEntry{User: "u2", Delta: 5, Reason: "grant"})).To(Succeed())

				balance, err := store.CreditBalance(ctx, "u1")
				Expect(err).NotTo(HaveOccurred())
				Expect(balance).To(Equal(int64(9)))
			})

			It("returns zero for users with no entries", func() {
				balance, err := store.CreditBalance(ctx, "nobody")
				Expect(err).NotTo(HaveOccurred())
				Expect(balance).To(BeZero())
			})
		})
	})
}

var _ = describeStore("MemoryStore", func() conversation.Store {
	return conversation.NewMemoryStore()
})

var _ = describeStore("SQLiteStore", func() conversation.Store {
	s, err := conversation.NewSQLiteStore(":memory:")
	Expect(err).NotTo(HaveOccurred())
	return s
})

var _ = Describe("SQLiteStore file database", func() {
	It("creates the database file", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "relay.db")

		s, err := conversation.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		_, err = os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("persists handles across reopen", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "relay.db")
		ctx := context.Background()

		s, err := conversation.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.EnsureHandle(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.SetUpstreamID(ctx, "c1", "up-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		s, err = conversation.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		h, err := s.GetHandle(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*h.UpstreamID).To(Equal("up-a"))
	})
})
