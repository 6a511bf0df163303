package camt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/store"
)

// ErrMalformedStatement means the uploaded XML is not a statement this
// importer understands.
var ErrMalformedStatement = errors.New("malformed statement")

// Importer ingests camt.053-style bank statement XML into pending
// statement entries.
type Importer struct {
	statements store.StatementStore
	log        *logrus.Logger
}

// NewImporter initializes a new statement importer.
func NewImporter(statements store.StatementStore, log *logrus.Logger) *Importer {
	return &Importer{statements: statements, log: log}
}

// Parse extracts statement entries from the raw XML. Credit entries get a
// positive amount (money into the account), debit entries a negative one.
func (i *Importer) Parse(accountID int64, raw []byte) ([]models.StatementEntry, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", ErrMalformedStatement)
	}

	if doc.FindElement("//Stmt") == nil {
		return nil, fmt.Errorf("no Stmt element found: %w", ErrMalformedStatement)
	}

	// Log the raw XML size for debugging
	i.log.Debugf("Parsing statement XML (%d bytes) for account %d", len(raw), accountID)

	var entries []models.StatementEntry
	for _, ntry := range doc.FindElements("//Stmt/Ntry") {
		entry, err := i.parseEntry(accountID, ntry)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (i *Importer) parseEntry(accountID int64, ntry *etree.Element) (*models.StatementEntry, error) {
	amtElement := ntry.FindElement("./Amt")
	if amtElement == nil {
		return nil, fmt.Errorf("entry without Amt: %w", ErrMalformedStatement)
	}
	amount, err := decimal.NewFromString(amtElement.Text())
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amtElement.Text(), ErrMalformedStatement)
	}

	indElement := ntry.FindElement("./CdtDbtInd")
	if indElement == nil {
		return nil, fmt.Errorf("entry without CdtDbtInd: %w", ErrMalformedStatement)
	}
	switch indElement.Text() {
	case "CRDT":
	case "DBIT":
		amount = amount.Neg()
	default:
		return nil, fmt.Errorf("invalid CdtDbtInd %q: %w", indElement.Text(), ErrMalformedStatement)
	}

	dateElement := ntry.FindElement("./ValDt/Dt")
	if dateElement == nil {
		dateElement = ntry.FindElement("./BookgDt/Dt")
	}
	if dateElement == nil {
		return nil, fmt.Errorf("entry without value or booking date: %w", ErrMalformedStatement)
	}
	valueDate, err := time.Parse("2006-01-02", dateElement.Text())
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", dateElement.Text(), ErrMalformedStatement)
	}

	var bankRef string
	if refElement := ntry.FindElement(".//EndToEndId"); refElement != nil {
		bankRef = refElement.Text()
	} else if refElement := ntry.FindElement("./AcctSvcrRef"); refElement != nil {
		bankRef = refElement.Text()
	}

	var description string
	if descElement := ntry.FindElement("./AddtlNtryInf"); descElement != nil {
		description = descElement.Text()
	}

	return &models.StatementEntry{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		ValueDate:   valueDate,
		Amount:      amount,
		Description: description,
		BankRef:     bankRef,
		Status:      models.StatementPending,
	}, nil
}

// Import parses the XML and stores the entries as pending, skipping lines
// whose bank reference was already imported for the account. Returns the
// number of entries stored.
func (i *Importer) Import(ctx context.Context, accountID int64, raw []byte) (int, error) {
	entries, err := i.Parse(accountID, raw)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, entry := range entries {
		if entry.BankRef != "" {
			exists, err := i.statements.HasBankRef(ctx, accountID, entry.BankRef)
			if err != nil {
				return imported, err
			}
			if exists {
				i.log.Debugf("Skipping duplicate statement line %s", entry.BankRef)
				continue
			}
		}
		if err := i.statements.InsertStatement(ctx, &entry); err != nil {
			return imported, err
		}
		imported++
	}

	i.log.Infof("Imported %d of %d statement lines for account %d", imported, len(entries), accountID)
	return imported, nil
}
