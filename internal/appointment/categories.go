package appointment

import "fmt"

type Category struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
}

var categories = []Category{
	{Name: "Routine Check-Ups & Screenings", Types: []string{
		"Annual pelvic exam",
		"Pap smear",
		"Breast exam",
		"HPV screening",
		"STI testing",
	}},
	{Name: "Birth Control & Family Planning", Types: []string{
		"Contraceptive counseling",
		"Birth control prescriptions",
		"IUD insertion/removal",
		"Implant insertion/removal",
		"Emergency contraception",
	}},
	{Name: "Pregnancy-Related Appointments", Types: []string{
		"Preconception counseling",
		"Prenatal care",
		"Ultrasound appointments",
		"Genetic screening and testing",
		"Labor and delivery planning",
		"Postpartum check-up",
	}},
	{Name: "Menstrual and Hormonal Issues", Types: []string{
		"Irregular periods",
		"Painful or heavy menstruation",
		"PMS or PMDD management",
		"Perimenopause and menopause care",
		"Hormone therapy",
	}},
	{Name: "Gynecological Concerns", Types: []string{
		"Vaginal infections",
		"Urinary tract infections (UTIs)",
		"Pelvic pain",
		"Endometriosis",
		"Polycystic ovary syndrome (PCOS)",
		"Ovarian cysts or fibroids",
	}},
	{Name: "Fertility & Infertility Services", Types: []string{
		"Fertility evaluation",
		"Ovulation tracking",
		"Referral for assisted reproductive technologies",
	}},
	{Name: "Surgeries & Procedures", Types: []string{
		"Colposcopy",
		"Endometrial biopsy",
		"Laparoscopy",
		"D&C (dilation and curettage)",
		"Hysteroscopy",
		"Hysterectomy consultations",
	}},
	{Name: "Sexual Health & Counseling", Types: []string{
		"Sexual dysfunction",
		"Pain during intercourse",
		"Libido issues",
		"LGBTQ+ reproductive health counseling",
	}},
}

// Categories returns the appointment category catalog.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i, c := range categories {
		out[i] = Category{Name: c.Name, Types: append([]string(nil), c.Types...)}
	}
	return out
}

// ValidateType checks that typ is listed under category.
func ValidateType(category, typ string) error {
	for _, c := range categories {
		if c.Name != category {
			continue
		}
		for _, t := range c.Types {
			if t == typ {
				return nil
			}
		}
		return fmt.Errorf("%w: %q is not a %q appointment", ErrUnknownType, typ, category)
	}
	return fmt.Errorf("%w: category %q", ErrUnknownType, category)
}
