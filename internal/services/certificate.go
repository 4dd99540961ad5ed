package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/certmint/certmint/internal/certificate"
)

type CertificateResult struct {
	CertificateURL string `json:"certificateUrl"`
	CertificateID  string `json:"certificateId"`
}

// CertificateService previews certificate images outside of a claim.
type CertificateService struct {
	builder  CertificateBuilder
	validate *validator.Validate
	now      func() time.Time
}

func NewCertificateService(builder CertificateBuilder) *CertificateService {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CertificateService{
		builder:  builder,
		validate: validate,
		now:      time.Now,
	}
}

// Generate builds a certificate URL. A fresh authenticity id is assigned when
// the request carries none.
func (s *CertificateService) Generate(_ context.Context, fields certificate.Fields) (*CertificateResult, error) {
	fields.ProductName = strings.TrimSpace(fields.ProductName)
	if err := s.validate.Struct(fields); err != nil {
		var field string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		return nil, &ValidationError{Field: field, Message: "is missing or too long"}
	}
	if fields.CertificateID == "" {
		fields.CertificateID = certificate.NewAuthenticityID()
	}
	if fields.IssuedAt.IsZero() {
		fields.IssuedAt = s.now()
	}
	return &CertificateResult{
		CertificateURL: s.builder.BuildURL(fields),
		CertificateID:  fields.CertificateID,
	}, nil
}
