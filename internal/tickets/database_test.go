package tickets

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cashtos/internal/ticket"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveTicket", func() {
		var (
			t   *Ticket
			err error
		)

		BeforeEach(func() {
			t = &Ticket{
				ID:          "test-id",
				Record:      sampleRecord(),
				ImageFile:   "test-id_ticket.jpg",
				ContentType: "image/jpeg",
				Source:      SourceScan,
				CreatedAt:   time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC),
				UpdatedAt:   time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveTicket(t)
		})

		It("round trips the record", func() {
			Expect(err).NotTo(HaveOccurred())

			saved, getErr := db.GetTicket("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.CommerceName).To(Equal("Farmacia del Sol"))
			Expect(saved.TotalAmount.String()).To(Equal("12.00"))
			Expect(saved.Items).To(HaveLen(2))
			Expect(saved.Items[0].Subtotal.String()).To(Equal("7.00"))
			Expect(saved.Source).To(Equal(SourceScan))
			Expect(saved.CreatedAt.Equal(t.CreatedAt)).To(BeTrue())
		})

		It("replaces an existing ticket", func() {
			t.Notes = "cambiado"
			Expect(db.SaveTicket(t)).To(Succeed())

			list, listErr := db.ListTickets()
			Expect(listErr).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Notes).To(Equal("cambiado"))
		})

		It("persists across reopen", func() {
			Expect(db.Close()).To(Succeed())

			var openErr error
			db, openErr = NewBoltDB(dbPath)
			Expect(openErr).NotTo(HaveOccurred())

			saved, getErr := db.GetTicket("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.ID).To(Equal("test-id"))
		})
	})

	Describe("GetTicket", func() {
		When("the ticket does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetTicket("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListTickets", func() {
		When("the database is empty", func() {
			It("returns an empty slice", func() {
				list, err := db.ListTickets()
				Expect(err).NotTo(HaveOccurred())
				Expect(list).NotTo(BeNil())
				Expect(list).To(BeEmpty())
			})
		})

		When("tickets exist", func() {
			BeforeEach(func() {
				for _, id := range []string{"a", "b", "c"} {
					Expect(db.SaveTicket(&Ticket{ID: id, Record: sampleRecord()})).To(Succeed())
				}
			})

			It("returns all of them", func() {
				list, err := db.ListTickets()
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(3))
			})
		})
	})

	Describe("DeleteTicket", func() {
		BeforeEach(func() {
			Expect(db.SaveTicket(&Ticket{ID: "gone", Record: ticket.Record{CommerceName: "X"}})).To(Succeed())
		})

		It("removes the ticket", func() {
			Expect(db.DeleteTicket("gone")).To(Succeed())
			_, err := db.GetTicket("gone")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for an unknown id", func() {
			Expect(db.DeleteTicket("missing")).To(MatchError(ErrNotFound))
		})
	})
})
